package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/julianstephens/daybook/internal/logger"
)

// startWatcher follows writes made by other processes to the database files.
// SQLite has no change feed, so the directory is watched and every subscribed
// scope is re-read once events settle.
func (s *Store) startWatcher() error {
	if !s.watch {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.watchLoop(watcher, s.stop)

	logger.Debug("Watching database for external changes", "dir", dir)
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher, stop <-chan struct{}) {
	defer s.wg.Done()
	defer watcher.Close()

	base := filepath.Base(s.path)
	var settle <-chan time.Time

	for {
		select {
		case <-stop:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			settle = time.After(s.debounce)

		case <-settle:
			settle = nil
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.broker.RefreshAll(ctx); err != nil {
				logger.Warn("Failed to refresh subscribers after external change", "error", err)
			}
			cancel()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("File watcher error", "error", err)
		}
	}
}
