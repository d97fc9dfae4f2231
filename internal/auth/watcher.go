package auth

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// KeysWatcher reloads the API key set when the keys file changes on
// disk, so keys can be rotated without a restart.
type KeysWatcher struct {
	auth    *Authenticator
	path    string
	log     zerolog.Logger
	watcher *fsnotify.Watcher

	// Debounce: coalesce rapid Write+Chmod events from editors that
	// truncate-and-rewrite.
	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewKeysWatcher builds a watcher for the keys file at path. Call Run to
// start it.
func NewKeysWatcher(a *Authenticator, path string, log zerolog.Logger) *KeysWatcher {
	return &KeysWatcher{auth: a, path: path, log: log}
}

// Run watches the keys file until ctx is cancelled. Watching the parent
// directory instead of the file itself survives rename-based atomic
// writes, which remove the watched inode.
func (kw *KeysWatcher) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	kw.watcher = w
	defer w.Close()

	dir := filepath.Dir(kw.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	kw.log.Info().Str("path", kw.path).Msg("watching api keys file")

	base := filepath.Base(kw.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			kw.scheduleReload()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			kw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

func (kw *KeysWatcher) scheduleReload() {
	kw.debounceMu.Lock()
	defer kw.debounceMu.Unlock()

	if kw.debounceTimer != nil {
		kw.debounceTimer.Reset(500 * time.Millisecond)
		return
	}
	kw.debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
		kw.debounceMu.Lock()
		kw.debounceTimer = nil
		kw.debounceMu.Unlock()

		kw.reload()
	})
}

func (kw *KeysWatcher) reload() {
	keys, err := LoadKeysFile(kw.path)
	if err != nil {
		kw.log.Warn().Err(err).Str("path", kw.path).Msg("keys reload failed, keeping previous set")
		return
	}
	kw.auth.ReplaceKeys(keys)
}
