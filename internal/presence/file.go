package presence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"budgetsync/internal/budget"
)

// OfflineMarker is the state file content that means offline.
const OfflineMarker = "offline"

// FileSignal derives connectivity from a state file maintained by a network
// manager hook (for example a NetworkManager dispatcher script). The file
// containing "offline" means offline; any other content, or no file, means
// online.
//
// The parent directory is watched rather than the file itself so the signal
// survives the file being replaced or removed.
type FileSignal struct {
	path    string
	logger  budget.Logger
	b       *broadcaster
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

var _ budget.NetworkSignal = (*FileSignal)(nil)

// NewFileSignal starts watching path. Call Close to stop.
func NewFileSignal(path string, logger budget.Logger) (*FileSignal, error) {
	if path == "" {
		return nil, fmt.Errorf("state_file required for file network signal")
	}
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state file directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s := &FileSignal{
		path:    path,
		logger:  logger,
		b:       newBroadcaster(readState(path)),
		watcher: watcher,
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processEvents()
	return s, nil
}

// Online returns the current state.
func (s *FileSignal) Online() bool {
	return s.b.get()
}

// Watch emits every transition until ctx is done or the signal is closed.
func (s *FileSignal) Watch(ctx context.Context) <-chan bool {
	return s.b.watch(ctx)
}

// Close stops watching and closes all watcher channels.
func (s *FileSignal) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		s.wg.Wait()
		s.b.closeAll()
	})
	return err
}

func (s *FileSignal) processEvents() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			online := readState(s.path)
			if s.b.set(online) {
				s.logger.Info("network state changed", "online", online, "op", event.Op.String())
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("network state watcher error", "error", err)
		}
	}
}

// readState reports whether the file at path means online.
func readState(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	return !strings.EqualFold(strings.TrimSpace(string(data)), OfflineMarker)
}

// WriteState replaces the state file atomically.
func WriteState(path string, online bool) error {
	content := "online\n"
	if !online {
		content = OfflineMarker + "\n"
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
