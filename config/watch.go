package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vinayprograms/drainkit/logging"
)

// debounce coalesces the burst of events editors produce on save.
const debounce = 100 * time.Millisecond

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path     string
	onChange func(Config)
	logger   *logging.Logger
	fsw      *fsnotify.Watcher

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Watch calls onChange with each successfully reloaded configuration.
// Invalid files are logged and the previous configuration stays in effect.
// The parent directory is watched so atomic renames are seen.
func Watch(path string, logger *logging.Logger, onChange func(Config)) (*Watcher, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		onChange: onChange,
		logger:   logger,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	defer w.wg.Done()

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", map[string]interface{}{"error": err})
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", map[string]interface{}{
			"path":  w.path,
			"error": err,
		})
		return
	}
	w.logger.Info("config reloaded", map[string]interface{}{"path": w.path})
	w.onChange(cfg)
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if closeErr := w.fsw.Close(); closeErr != nil {
			err = fmt.Errorf("closing config watcher: %w", closeErr)
		}
		w.wg.Wait()
	})
	return err
}
