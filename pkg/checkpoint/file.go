package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// FileStore keeps one JSON document per stream in a directory. Writes go to
// a temporary file that is renamed over the previous state.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file holding the state of stream.
func (f *FileStore) Path(stream string) string {
	return filepath.Join(f.dir, stream+".json")
}

// Load implements Store.
func (f *FileStore) Load(_ context.Context, stream string) (State, error) {
	if err := validStream(stream); err != nil {
		return State{}, err
	}
	data, err := os.ReadFile(f.Path(stream))
	if errors.Is(err, fs.ErrNotExist) {
		return State{Stream: stream}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state file: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode state file %s: %w", f.Path(stream), err)
	}
	s.Stream = stream
	return s, nil
}

// Save implements Store.
func (f *FileStore) Save(ctx context.Context, state State) error {
	if err := validStream(state.Stream); err != nil {
		return err
	}
	cur, err := f.Load(ctx, state.Stream)
	if err != nil {
		return err
	}
	if cur.LastID > state.LastID {
		savesTotal.WithLabelValues("file", "stale").Inc()
		return fmt.Errorf("%w: stored %d, saving %d", ErrStaleState, cur.LastID, state.LastID)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, state.Stream+".*.tmp")
	if err != nil {
		savesTotal.WithLabelValues("file", "error").Inc()
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		savesTotal.WithLabelValues("file", "error").Inc()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		savesTotal.WithLabelValues("file", "error").Inc()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		savesTotal.WithLabelValues("file", "error").Inc()
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path(state.Stream)); err != nil {
		savesTotal.WithLabelValues("file", "error").Inc()
		return fmt.Errorf("replace state file: %w", err)
	}

	savesTotal.WithLabelValues("file", "ok").Inc()
	return nil
}

// Delete implements Store.
func (f *FileStore) Delete(_ context.Context, stream string) error {
	if err := validStream(stream); err != nil {
		return err
	}
	if err := os.Remove(f.Path(stream)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

// Close implements Store.
func (f *FileStore) Close() error {
	return nil
}
