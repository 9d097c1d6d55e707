package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const (
	defaultWatchDebounce = 250 * time.Millisecond
	defaultPollInterval  = 5 * time.Second
)

// LicenseWatcher reports changes to the license record file so an operator
// edit or an installer write is re-evaluated without waiting for the next
// scheduled check.
type LicenseWatcher struct {
	path         string
	onChange     func()
	debounce     time.Duration
	pollInterval time.Duration
}

// NewLicenseWatcher watches path and calls onChange after each burst of
// writes to it.
func NewLicenseWatcher(path string, onChange func()) *LicenseWatcher {
	return &LicenseWatcher{
		path:         filepath.Clean(path),
		onChange:     onChange,
		debounce:     defaultWatchDebounce,
		pollInterval: defaultPollInterval,
	}
}

// Run blocks until ctx is done. It watches the parent directory with
// fsnotify and falls back to polling the file's modification time when the
// directory cannot be watched.
func (w *LicenseWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create license file watcher; falling back to polling")
		return w.poll(ctx)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch license directory; falling back to polling")
		return w.poll(ctx)
	}
	log.Info().Str("path", w.path).Msg("Watching license file for changes")

	var (
		timer  *time.Timer
		fireCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.matches(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			log.Debug().Str("event", event.Op.String()).Msg("License file event")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fireCh = timer.C

		case <-fireCh:
			fireCh = nil
			log.Info().Str("path", w.path).Msg("Detected license file change")
			w.onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("License file watcher error")
		}
	}
}

func (w *LicenseWatcher) poll(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	last := w.modTime()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current := w.modTime()
			if !current.Equal(last) {
				last = current
				log.Info().Str("path", w.path).Msg("Detected license file change via polling")
				w.onChange()
			}
		}
	}
}

// walSuffix names the SQLite write-ahead log; in WAL mode record writes
// land there until a checkpoint.
const walSuffix = "-wal"

func (w *LicenseWatcher) matches(name string) bool {
	name = filepath.Clean(name)
	return name == w.path || name == w.path+walSuffix
}

func (w *LicenseWatcher) modTime() time.Time {
	var latest time.Time
	for _, p := range []string{w.path, w.path + walSuffix} {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}
