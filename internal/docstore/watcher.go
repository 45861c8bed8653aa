package docstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/daylens/internal/metrics"
)

const watchDebounce = 200 * time.Millisecond

// fileState identifies the content of the database and its WAL.
type fileState struct {
	dbSize, dbMod   int64
	walSize, walMod int64
}

func statFile(path string) (size, mod int64) {
	fi, err := os.Stat(path)
	if err != nil {
		return -1, 0
	}
	return fi.Size(), fi.ModTime().UnixNano()
}

func (s *Store) fileState() fileState {
	var st fileState
	st.dbSize, st.dbMod = statFile(s.path)
	st.walSize, st.walMod = statFile(s.path + "-wal")
	return st
}

// MarkWritten records that a write made by this process through another
// user of the same database just finished, so Watch does not mistake it
// for a change from another process.
func (s *Store) MarkWritten() { s.recordLocalWrite() }

// recordLocalWrite remembers the file state produced by a write through
// this Store, so the watcher can tell it apart from other writers.
func (s *Store) recordLocalWrite() {
	if s.path == "" {
		return
	}
	st := s.fileState()
	s.local.Store(&st)
}

// changedElsewhere reports whether the files differ from the state left by
// our latest write.
func (s *Store) changedElsewhere() bool {
	local := s.local.Load()
	return local == nil || *local != s.fileState()
}

// Watch observes the database file (and its WAL/SHM companions) for writes
// made by other processes and refreshes every live query when they happen.
// Changes that match the state left by this Store's own latest write are
// ignored; those writes already refreshed the affected queries.
// It blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, logger *slog.Logger) error {
	if s.path == "" {
		return errors.New("docstore: watch requires a database path")
	}
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return err
	}
	dir, base := filepath.Dir(abs), filepath.Base(abs)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: SQLite replaces the WAL and SHM files.
	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Info("docstore watcher: started", slog.String("path", abs))

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	schedule := func() {
		if debounce == nil {
			debounce = time.NewTimer(watchDebounce)
			debounceCh = debounce.C
		} else {
			debounce.Reset(watchDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			logger.Info("docstore watcher: stopped")
			return nil

		case <-debounceCh:
			if !s.changedElsewhere() {
				metrics.WatchChange(false)
				continue
			}
			metrics.WatchChange(true)
			s.refreshes.Add(1)
			logger.Debug("docstore watcher: refreshing live queries",
				slog.Int("listeners", s.ListenerCount()))
			s.notifyAll()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("docstore watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
