package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/notibridge/internal/pkg/constants"
	"github.com/endorses/notibridge/internal/pkg/filtering"
	"github.com/endorses/notibridge/internal/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrUnknownKey is returned by Set for keys that are not runtime settable
var ErrUnknownKey = errors.New("config: unknown key")

// Store owns the live filter set. Readers get an immutable snapshot through
// Filters; reloads and Set replace it wholesale. An invalid edit is rejected
// and the previous set stays live.
type Store struct {
	mu      sync.Mutex // guards v, listeners and the watcher
	v       *viper.Viper
	filters atomic.Pointer[filtering.FilterSet]

	listeners []func(*filtering.FilterSet)
	onReload  func(error)

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewStore builds the initial filter set from v. Invalid filters at startup
// are an error since there is no previous set to fall back to.
func NewStore(v *viper.Viper) (*Store, error) {
	s := &Store{v: v, onReload: func(error) {}}
	set, err := s.parseLocked()
	if err != nil {
		return nil, err
	}
	s.filters.Store(set)
	return s, nil
}

// Filters returns the live filter set
func (s *Store) Filters() *filtering.FilterSet {
	return s.filters.Load()
}

// OnChange registers fn to run after every successful replacement
func (s *Store) OnChange(fn func(*filtering.FilterSet)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetReloadHook registers fn to observe the outcome of every reload
func (s *Store) SetReloadHook(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func(error) {}
	}
	s.onReload = fn
}

// Reload re-reads the configuration file and replaces the filter set. On a
// parse error the previous set is kept and the error returned.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.v.ConfigFileUsed() != "" {
		if err := s.v.ReadInConfig(); err != nil {
			err = fmt.Errorf("failed to re-read config: %w", err)
			s.rejectLocked(err)
			return err
		}
	}

	set, err := s.parseLocked()
	if err != nil {
		s.rejectLocked(err)
		return err
	}
	s.replaceLocked(set)
	return nil
}

// Set validates and applies a single runtime setting: a filter key
// ("filters.<kind>") or ignore_current_buffer. A set value takes precedence
// over the configuration file until the process restarts.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.filters.Load()

	if key == KeyIgnoreCurrentBuffer {
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		s.v.Set(key, on)
		s.replaceLocked(current.WithIgnoreCurrentBuffer(on))
		return nil
	}

	kind, ok := strings.CutPrefix(key, filterKeyPrefix)
	if !ok || !filtering.ValidKind(filtering.Kind(kind)) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	f, err := filtering.ParseStrict(value)
	if err != nil {
		var pe *filtering.ParseError
		if errors.As(err, &pe) {
			pe.Key = kind
		}
		logger.Warn("Rejected filter edit, keeping previous filter", "key", key, "error", err)
		return err
	}

	s.v.Set(key, value)
	s.replaceLocked(current.With(filtering.Kind(kind), f))
	return nil
}

// Get returns the textual value of a runtime setting
func (s *Store) Get(key string) (string, error) {
	set := s.filters.Load()
	if key == KeyIgnoreCurrentBuffer {
		return strconv.FormatBool(set.IgnoreCurrentBuffer()), nil
	}
	kind, ok := strings.CutPrefix(key, filterKeyPrefix)
	if !ok || !filtering.ValidKind(filtering.Kind(kind)) {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return set.Get(filtering.Kind(kind)).String(), nil
}

type snapshot struct {
	IgnoreCurrentBuffer bool              `yaml:"ignore_current_buffer"`
	Filters             map[string]string `yaml:"filters"`
}

// Snapshot renders the live filter configuration as YAML
func (s *Store) Snapshot() ([]byte, error) {
	set := s.filters.Load()
	snap := snapshot{
		IgnoreCurrentBuffer: set.IgnoreCurrentBuffer(),
		Filters:             make(map[string]string, len(filtering.Kinds)),
	}
	for k, spec := range set.Specs() {
		snap.Filters[string(k)] = spec
	}
	return yaml.Marshal(&snap)
}

// Watch reloads the filter set whenever the configuration file changes,
// until ctx is done or Close is called. Without a config file it does nothing.
func (s *Store) Watch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.v.ConfigFileUsed()
	if file == "" || s.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// watch the directory so editors that replace the file are seen too
	if err := w.Add(filepath.Dir(file)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(file), err)
	}
	s.watcher = w

	s.wg.Add(1)
	go s.watchLoop(ctx, w, filepath.Clean(file))

	logger.Info("Watching configuration file", "path", file)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher, file string) {
	defer s.wg.Done()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != file {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce = time.After(constants.ConfigReloadDebounce)
			}

		case <-debounce:
			debounce = nil
			if err := s.Reload(); err != nil {
				logger.Warn("Configuration reload rejected, keeping previous filters", "error", err)
			} else {
				logger.Info("Configuration reloaded", "path", file)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("Config watcher error", "error", err)
		}
	}
}

// Close stops watching. The store stays usable.
func (s *Store) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	s.wg.Wait()
	return err
}

func (s *Store) parseLocked() (*filtering.FilterSet, error) {
	return filtering.ParseSet(filterSpecs(s.v), s.v.GetBool(KeyIgnoreCurrentBuffer))
}

func (s *Store) replaceLocked(set *filtering.FilterSet) {
	s.filters.Store(set)
	s.onReload(nil)
	for _, fn := range s.listeners {
		fn(set)
	}
}

func (s *Store) rejectLocked(err error) {
	s.onReload(err)
}
