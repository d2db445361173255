package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ErrManagerClosed indicates the config manager has been closed.
var ErrManagerClosed = errors.New("config manager is closed")

// Manager holds the live configuration snapshot and optionally watches the
// backing file for changes. Readers get a consistent snapshot via Get;
// reloads swap the snapshot atomically, which is how checksum enforcement can
// be toggled on a running service.
type Manager struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Config]

	watcherMu sync.Mutex
	watchers  []func(*Config)

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}

	closeOnce sync.Once
}

// NewManager loads the config at path, falling back to defaults when the
// file does not exist.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		path:   path,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)
	return m, nil
}

func (m *Manager) load() (*Config, error) {
	if m.path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(m.path)
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// OnChange registers a callback invoked after each successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// Watch starts reloading the config file when it changes on disk. A reload
// that fails to parse keeps the previous snapshot.
func (m *Manager) Watch() error {
	if m.path == "" {
		return fmt.Errorf("no config file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	m.watcher = watcher
	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	defer close(m.done)

	for {
		select {
		case <-m.stop:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", "err", err)
		}
	}
}

func (m *Manager) reload() {
	cfg, err := m.load()
	if err != nil {
		m.logger.Error("config reload failed, keeping previous snapshot", "path", m.path, "err", err)
		return
	}
	m.current.Store(cfg)
	m.logger.Info("config reloaded", "path", m.path)

	m.watcherMu.Lock()
	watchers := make([]func(*Config), len(m.watchers))
	copy(watchers, m.watchers)
	m.watcherMu.Unlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

// Close stops watching. Safe to call whether or not Watch was started.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stop)
		if m.watcher != nil {
			err = m.watcher.Close()
			<-m.done
		}
	})
	return err
}
