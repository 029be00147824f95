package config

import (
	"fmt"
	"sort"

	"github.com/pelletier/go-toml"
)

// KindLimit is the run limit of a task kind.
//
//	[kinds.render]
//	max = 4
//
//	[kinds."render.gpu"]
//	parent = "render"
//	max = 1
//	exclusive = true
type KindLimit struct {
	Kind   string `toml:"-"`
	Parent string `toml:"parent"`
	// Max is number of tasks of the kind run at the same time.
	// Zero or less means no limit.
	Max       int  `toml:"max"`
	Exclusive bool `toml:"exclusive"`
}

// KindLimits returns the kinds table, in the order they appear in the file.
func (s *TOMLSource) KindLimits() ([]KindLimit, error) {
	v := s.tree.Get("kinds")
	if v == nil {
		return nil, nil
	}
	kinds, ok := v.(*toml.Tree)
	if !ok {
		return nil, fmt.Errorf("kinds should be a table")
	}
	limits := make([]KindLimit, 0)
	for _, k := range orderedKeys(kinds) {
		sub, ok := kinds.GetPath([]string{k}).(*toml.Tree)
		if !ok {
			return nil, fmt.Errorf("kinds.%s should be a table", k)
		}
		l := KindLimit{}
		if err := sub.Unmarshal(&l); err != nil {
			return nil, fmt.Errorf("kinds.%s: %v", k, err)
		}
		l.Kind = k
		limits = append(limits, l)
	}
	return limits, nil
}

// orderedKeys returns keys of t in the order they appear in the file.
// Keys of values other than tables come first, in no particular order.
func orderedKeys(t *toml.Tree) []string {
	type keyPos struct {
		Key  string
		Line int
		Col  int
	}
	keys := t.Keys()
	poses := make([]keyPos, len(keys))
	for i, k := range keys {
		p := keyPos{Key: k}
		if subt, ok := t.GetPath([]string{k}).(*toml.Tree); ok {
			p.Line = subt.Position().Line
			p.Col = subt.Position().Col
		}
		poses[i] = p
	}
	sort.SliceStable(poses, func(i, j int) bool {
		if poses[i].Line != poses[j].Line {
			return poses[i].Line < poses[j].Line
		}
		return poses[i].Col < poses[j].Col
	})
	ordkeys := make([]string, len(poses))
	for i, p := range poses {
		ordkeys[i] = p.Key
	}
	return ordkeys
}
