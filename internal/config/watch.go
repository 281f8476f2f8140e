package config

import (
	"github.com/AdguardTeam/golibs/log"
	"github.com/fsnotify/fsnotify"
	"github.com/joomcode/errorx"
)

// Watcher reloads a config file on write/rename events and reports the
// reloadable subset of each successful reload, leaving restart-required
// fields (interface, lease file path, max_leases, ...) untouched since the
// caller owns those for the lifetime of the process.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	Reloads chan HotFields
	Errors  chan error
}

// NewWatcher starts watching path itself and returns a Watcher whose Reloads
// channel receives the new HotFields every time path is successfully
// reloaded. The parent directory is not watched.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errorx.Decorate(err, "config: creating fsnotify watcher")
	}

	w := &Watcher{
		path:    path,
		fsw:     fsw,
		Reloads: make(chan HotFields, 1),
		Errors:  make(chan error, 1),
	}

	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, errorx.Decorate(err, "config: watching %s", path)
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Error("config: reload of %s failed: %s", w.path, err)
				continue
			}
			if errs := Validate(cfg); len(errs) > 0 {
				log.Error("config: reload of %s rejected: %s", w.path, errs)
				continue
			}
			log.Info("config: reloaded %s", w.path)
			w.Reloads <- cfg.Hot()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.Errors <- err
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
