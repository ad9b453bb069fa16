package registry

import (
	"log"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-registers flow type configs when files in the config directory
// change. Registration is version-gated, so rewrites of an unchanged file
// are no-ops.
type Watcher struct {
	registry *Registry
	dir      string
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher starts watching dir for flow type config changes.
func NewWatcher(r *Registry, dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		registry: r,
		dir:      dir,
		watcher:  fw,
		done:     make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

// watch handles filesystem events until Close is called.
func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !isYAML(filepath.Base(event.Name)) || strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			w.reload(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[registry] watch error: %v", err)
		case <-w.done:
			return
		}
	}
}

// reload re-registers a single changed config file.
func (w *Watcher) reload(path string) {
	cfg, err := LoadFile(path)
	if err != nil {
		log.Printf("[registry] reload %s: %v", path, err)
		return
	}
	if err := w.registry.Register(cfg); err != nil {
		log.Printf("[registry] reload %s: %v", path, err)
		return
	}
	log.Printf("[registry] reloaded flow type %q version %s", cfg.Name, cfg.Version)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
