package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotExist is reported by Load when no state file exists yet. Callers
// distinguish a cold start (no file) from a corrupt snapshot (any other
// decode failure) with errors.Is.
var ErrNotExist = errors.New("state file does not exist")

// tmpSuffix is appended to the snapshot filename during the write.
const tmpSuffix = ".tmp"

// Persister handles I/O for a specific state type using a Codec.
type Persister[T any] struct {
	basename string
	codec    Codec
}

// NewPersister creates a persister with the given basename and codec.
func NewPersister[T any](basename string, codec Codec) *Persister[T] {
	return &Persister[T]{
		basename: basename,
		codec:    codec,
	}
}

// Save writes state atomically to dir: the snapshot is encoded to a temp
// file, synced, and renamed over the previous snapshot.
func (p *Persister[T]) Save(dir string, state *T) error {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	path := filepath.Join(dir, p.basename+p.codec.Extension())
	tmpPath := path + tmpSuffix

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}

	encodeErr := p.codec.Encode(file, state)
	if encodeErr != nil {
		file.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("encode state: %w", encodeErr)
	}

	syncErr := file.Sync()

	closeErr := file.Close()
	if syncErr != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("sync state file: %w", syncErr)
	}

	if closeErr != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("close state file: %w", closeErr)
	}

	renameErr := os.Rename(tmpPath, path)
	if renameErr != nil {
		return fmt.Errorf("publish state file: %w", renameErr)
	}

	return nil
}

// Load restores state from dir. A missing file reports [ErrNotExist]; any
// decode failure is returned as-is so callers can treat it as fatal.
func (p *Persister[T]) Load(dir string) (*T, error) {
	path := filepath.Join(dir, p.basename+p.codec.Extension())

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
		}

		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	var state T

	decodeErr := p.codec.Decode(file, &state)
	if decodeErr != nil {
		return nil, fmt.Errorf("decode state: %w", decodeErr)
	}

	return &state, nil
}
