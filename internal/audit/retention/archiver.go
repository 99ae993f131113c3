package retention

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"auditchain/internal/audit/models"
)

// Archiver copies entries out of primary storage before their payload is removed.
type Archiver interface {
	Archive(ctx context.Context, req models.DeletionRequest, entries []models.Entry) error
}

// FileArchiver writes one JSON-lines file per deletion request under
// dir/<category>/<requestID>.jsonl. Entries keep their hashes and
// signatures so archived copies stay verifiable.
type FileArchiver struct {
	dir string
}

func NewFileArchiver(dir string) *FileArchiver {
	return &FileArchiver{dir: dir}
}

// Path returns the archive file for req.
func (a *FileArchiver) Path(req models.DeletionRequest) string {
	return filepath.Join(a.dir, string(req.Category), req.ID+".jsonl")
}

// Archive writes entries atomically: a temp file is synced and renamed into
// place, so a partial archive is never visible.
func (a *FileArchiver) Archive(ctx context.Context, req models.DeletionRequest, entries []models.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	final := a.Path(req)
	if err := os.MkdirAll(filepath.Dir(final), 0o750); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(final), req.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			cleanup()
			return fmt.Errorf("encode entry %d: %w", e.Sequence, err)
		}
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("flush archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish archive: %w", err)
	}
	return nil
}

// ReadArchive loads entries from an archive file.
func ReadArchive(path string) ([]models.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var out []models.Entry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e models.Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode archive: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
