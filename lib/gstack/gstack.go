// Package gstack parses goroutine dumps produced by runtime.Stack.
package gstack

import (
	"bufio"
	"bytes"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Frame is a function call in a goroutine's stack.
type Frame struct {
	Func string
	File string
	Line int
}

// Goroutine is a goroutine found in a dump.
type Goroutine struct {
	ID uint64
	// State is the wait reason reported by the runtime,
	// such as "running", "chan receive" or "sync.Mutex.Lock".
	State string
	// Wait is how long the goroutine has been blocked.
	// The runtime reports it only in minutes, and only after a minute.
	Wait   time.Duration
	Frames []Frame
	// CreatedBy is the function that started the goroutine.
	CreatedBy string
	// Raw is the goroutine's part of the dump as is.
	Raw string
}

// Blocked reports whether the goroutine waits to acquire a lock.
// Waiting on a channel or in a select is not blocked in this sense,
// as it is how goroutines idle normally.
func (g *Goroutine) Blocked() bool {
	switch g.State {
	case "semacquire", "sync.Mutex.Lock", "sync.RWMutex.Lock", "sync.RWMutex.RLock":
		return true
	}
	return false
}

// WaitFunc returns the first frame that doesn't belong to the runtime or
// sync packages: the function that tried to take the lock.
// It returns an empty string if there is no such frame.
func (g *Goroutine) WaitFunc() string {
	for _, f := range g.Frames {
		if isRuntimeFunc(f.Func) {
			continue
		}
		return f.Func
	}
	return ""
}

// HasFunc reports whether fn is one of the goroutine's frames.
func (g *Goroutine) HasFunc(fn string) bool {
	for _, f := range g.Frames {
		if f.Func == fn {
			return true
		}
	}
	return false
}

func isRuntimeFunc(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.HasPrefix(fn, "sync.") ||
		strings.HasPrefix(fn, "internal/sync.")
}

// Dump returns the stacks of all goroutines of the process.
func Dump() []byte {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, len(buf)*2)
	}
}

// CurrentID returns the id of the calling goroutine.
func CurrentID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	// goroutine 18 [running]:
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	i := bytes.IndexByte(buf, ' ')
	if i < 0 {
		return 0
	}
	id, _ := strconv.ParseUint(string(buf[:i]), 10, 64)
	return id
}

// Parse parses a dump into goroutines keyed by their id.
func Parse(dump []byte) map[uint64]*Goroutine {
	gs := make(map[uint64]*Goroutine)
	var g *Goroutine
	var raw strings.Builder
	flush := func() {
		if g == nil {
			return
		}
		g.Raw = strings.TrimSpace(raw.String())
		gs[g.ID] = g
		g = nil
		raw.Reset()
	}
	sc := bufio.NewScanner(bytes.NewReader(dump))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "goroutine ") && strings.HasSuffix(line, "]:") {
			flush()
			g = parseHeader(line)
			if g != nil {
				raw.WriteString(line)
				raw.WriteByte('\n')
			}
			continue
		}
		if g == nil {
			continue
		}
		raw.WriteString(line)
		raw.WriteByte('\n')
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "\t") {
			// location of the previous frame.
			if n := len(g.Frames); n != 0 && g.Frames[n-1].File == "" {
				g.Frames[n-1].File, g.Frames[n-1].Line = parseLocation(line)
			}
			continue
		}
		if strings.HasPrefix(line, "created by ") {
			fn := strings.TrimPrefix(line, "created by ")
			if i := strings.Index(fn, " in goroutine "); i >= 0 {
				fn = fn[:i]
			}
			g.CreatedBy = fn
			continue
		}
		if strings.HasPrefix(line, "...") {
			// ...additional frames elided...
			continue
		}
		g.Frames = append(g.Frames, Frame{Func: trimArgs(line)})
	}
	flush()
	return gs
}

// parseHeader parses "goroutine 7 [semacquire, 2 minutes]:".
func parseHeader(line string) *Goroutine {
	rest := strings.TrimPrefix(line, "goroutine ")
	i := strings.Index(rest, " [")
	if i < 0 {
		return nil
	}
	id, err := strconv.ParseUint(rest[:i], 10, 64)
	if err != nil {
		return nil
	}
	g := &Goroutine{ID: id}
	state := strings.TrimSuffix(rest[i+2:], "]:")
	parts := strings.Split(state, ", ")
	g.State = parts[0]
	for _, p := range parts[1:] {
		if strings.HasSuffix(p, " minutes") {
			n, err := strconv.Atoi(strings.TrimSuffix(p, " minutes"))
			if err == nil {
				g.Wait = time.Duration(n) * time.Minute
			}
		}
	}
	return g
}

// trimArgs trims the argument list from "pkg.(*T).f(0xc000010000, ...)".
func trimArgs(line string) string {
	if !strings.HasSuffix(line, ")") {
		return line
	}
	depth := 0
	for i := len(line) - 1; i >= 0; i-- {
		switch line[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return line[:i]
			}
		}
	}
	return line
}

// parseLocation parses "\t/path/to/file.go:42 +0x1d".
func parseLocation(line string) (string, int) {
	loc := strings.TrimSpace(line)
	if i := strings.LastIndex(loc, " +0x"); i >= 0 {
		loc = loc[:i]
	}
	i := strings.LastIndex(loc, ":")
	if i < 0 {
		return loc, 0
	}
	n, err := strconv.Atoi(loc[i+1:])
	if err != nil {
		return loc, 0
	}
	return loc[:i], n
}
