package config

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a toml file whenever it changes.
type Watcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

// Watch watches the toml file at path and calls fn with freshly read
// Settings after every change. env, when not nil, takes precedence over
// the file like it does at startup.
//
// The directory is watched rather than the file, as editors often
// replace a file instead of writing to it.
func Watch(path string, env Source, fn func(Settings)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config: %w", err)
	}
	w := &Watcher{w: fw, done: make(chan struct{})}
	go w.loop(abs, env, fn)
	return w, nil
}

func (w *Watcher) loop(path string, env Source, fn func(Settings)) {
	defer close(w.done)
	// coalesce bursts of events from a single save.
	var pending <-chan time.Time
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(100 * time.Millisecond)
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			log.Printf("config watch: %v", err)
		case <-pending:
			pending = nil
			src, err := LoadTOML(path)
			if err != nil {
				log.Printf("config reload: %v", err)
				continue
			}
			s, err := Read(Chain{env, src})
			if err != nil {
				log.Printf("config reload: %v", err)
				continue
			}
			fn(s)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.w.Close()
	<-w.done
	return err
}
