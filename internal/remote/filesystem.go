package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"budgetsync/internal/budget"
	"budgetsync/internal/model"
)

// Sealer encrypts documents at rest. See encryption.Sealer.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// FileSystemRemote stores one document per month under a per-user directory:
//
//	<root>/
//	  <userID>/
//	    <month>.json       (plaintext)
//	    <month>.json.age   (when a Sealer is configured)
//
// Useful as a sync target on a shared or mounted drive. Writes are atomic
// (temp file + rename), so a reader never sees a partial document.
type FileSystemRemote struct {
	root   string
	dir    string
	clock  budget.Clock
	sealer Sealer
}

var _ budget.Remote = (*FileSystemRemote)(nil)

// NewFileSystemRemote creates a remote rooted at root for userID. sealer may
// be nil to store plaintext documents.
func NewFileSystemRemote(root, userID string, clock budget.Clock, sealer Sealer) (*FileSystemRemote, error) {
	if root == "" {
		return nil, fmt.Errorf("fs_root required for filesystem remote")
	}
	if userID == "" || strings.ContainsAny(userID, `/\`) || userID == "." || userID == ".." {
		return nil, fmt.Errorf("invalid user id for filesystem remote: %q", userID)
	}

	dir := filepath.Join(root, userID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create remote directory: %w", err)
	}

	return &FileSystemRemote{
		root:   root,
		dir:    dir,
		clock:  clock,
		sealer: sealer,
	}, nil
}

func (r *FileSystemRemote) path(month string) string {
	name := month + ".json"
	if r.sealer != nil {
		name += ".age"
	}
	return filepath.Join(r.dir, name)
}

// FetchBudget reads the document for month. A missing file is (nil, nil).
func (r *FileSystemRemote) FetchBudget(ctx context.Context, month string) (*model.Document, error) {
	if err := budget.ValidateMonth(month); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(r.path(month))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading budget file: %w", err)
	}

	if r.sealer != nil {
		if data, err = r.sealer.Open(data); err != nil {
			return nil, err
		}
	}

	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding budget file: %w", err)
	}
	return &doc, nil
}

// SaveBudget replaces the document for doc.Month. The first save assigns a
// document id; later saves keep it.
func (r *FileSystemRemote) SaveBudget(ctx context.Context, doc *model.Document) error {
	if err := budget.ValidateMonth(doc.Month); err != nil {
		return err
	}

	stored := *doc
	if stored.ID == "" {
		existing, err := r.FetchBudget(ctx, doc.Month)
		if err != nil {
			return fmt.Errorf("reading existing budget: %w", err)
		}
		if existing != nil && existing.ID != "" {
			stored.ID = existing.ID
		} else {
			stored.ID = uuid.NewString()
		}
	}
	now := r.clock.Now().UTC()
	stored.UpdatedAt = &now

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding budget: %w", err)
	}
	if r.sealer != nil {
		if data, err = r.sealer.Seal(data); err != nil {
			return err
		}
	}

	return writeFile(r.path(doc.Month), data)
}

// writeFile writes data to destPath using atomic write (temp file + rename).
func writeFile(destPath string, data []byte) error {
	// Same directory, so the rename never crosses filesystems.
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
