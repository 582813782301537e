package services

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/academic-manager/wa-service/internal/domain"
)

// SessionBackup is the portable form of the credential directory. It is
// held in memory for the process lifetime and mirrored to a single file
// so a session survives an ephemeral-disk wipe plus redeploy.
type SessionBackup struct {
	EncodedSnapshot string    `json:"encoded_snapshot"`
	CreatedAt       time.Time `json:"created_at"`
	Phone           string    `json:"phone,omitempty"`
}

// BackupCodec encodes the credential directory to a SessionBackup and
// restores it back, byte for byte.
type BackupCodec struct {
	storeDir   string
	backupFile string
}

func NewBackupCodec(storeDir, backupFile string) *BackupCodec {
	return &BackupCodec{storeDir: storeDir, backupFile: backupFile}
}

// Encode snapshots every file under the credential directory into a
// SessionBackup and writes it to the backup file. A disk write failure
// is logged but not fatal: the returned in-memory backup is still valid.
func (c *BackupCodec) Encode(phone string) (*SessionBackup, error) {
	snapshot, err := c.readStore()
	if err != nil {
		return nil, fmt.Errorf("failed to read credential store: %w", err)
	}

	doc, err := json.Marshal(encodeSnapshot(snapshot))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	backup := &SessionBackup{
		EncodedSnapshot: base64.StdEncoding.EncodeToString(doc),
		CreatedAt:       time.Now(),
		Phone:           phone,
	}

	if err := c.writeBackupFile(backup); err != nil {
		log.Printf("[Backup] Failed to persist backup to disk (in-memory copy kept): %v", err)
	}

	return backup, nil
}

// Restore decodes the backup and writes every entry back into the
// credential directory. The new contents are staged in a sibling
// directory and swapped in, so the caller either observes a fully
// restored store or an error.
func (c *BackupCodec) Restore(backup *SessionBackup) error {
	if backup == nil || backup.EncodedSnapshot == "" {
		return fmt.Errorf("%w: empty backup", domain.ErrRestoreFailed)
	}

	doc, err := base64.StdEncoding.DecodeString(backup.EncodedSnapshot)
	if err != nil {
		return fmt.Errorf("%w: decode snapshot: %v", domain.ErrRestoreFailed, err)
	}

	var encoded map[string]string
	if err := json.Unmarshal(doc, &encoded); err != nil {
		return fmt.Errorf("%w: unmarshal snapshot: %v", domain.ErrRestoreFailed, err)
	}

	snapshot, err := decodeSnapshot(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRestoreFailed, err)
	}

	staging := c.storeDir + ".restoring"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("%w: clear staging dir: %v", domain.ErrRestoreFailed, err)
	}
	for name, content := range snapshot {
		path := filepath.Join(staging, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("%w: stage %s: %v", domain.ErrRestoreFailed, name, err)
		}
		if err := os.WriteFile(path, content, 0o600); err != nil {
			return fmt.Errorf("%w: stage %s: %v", domain.ErrRestoreFailed, name, err)
		}
	}
	if len(snapshot) == 0 {
		if err := os.MkdirAll(staging, 0o700); err != nil {
			return fmt.Errorf("%w: stage empty store: %v", domain.ErrRestoreFailed, err)
		}
	}

	if err := os.RemoveAll(c.storeDir); err != nil {
		return fmt.Errorf("%w: clear store dir: %v", domain.ErrRestoreFailed, err)
	}
	if err := os.Rename(staging, c.storeDir); err != nil {
		return fmt.Errorf("%w: swap store dir: %v", domain.ErrRestoreFailed, err)
	}

	log.Printf("[Backup] Restored %d credential file(s) from backup taken at %s", len(snapshot), backup.CreatedAt.Format(time.RFC3339))
	return nil
}

// LoadFromDisk reads the on-disk backup file, if any.
func (c *BackupCodec) LoadFromDisk() (*SessionBackup, error) {
	data, err := os.ReadFile(c.backupFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}

	var backup SessionBackup
	if err := json.Unmarshal(data, &backup); err != nil {
		return nil, fmt.Errorf("%w: corrupt backup file: %v", domain.ErrRestoreFailed, err)
	}
	return &backup, nil
}

// DeleteFromDisk removes the backup file. Used on forced logout so a
// revoked session cannot be resurrected.
func (c *BackupCodec) DeleteFromDisk() error {
	if err := os.Remove(c.backupFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// StoreIsEmpty reports whether the credential directory is missing or
// holds no files.
func (c *BackupCodec) StoreIsEmpty() bool {
	snapshot, err := c.readStore()
	return err != nil || len(snapshot) == 0
}

// WipeStore deletes the credential directory contents.
func (c *BackupCodec) WipeStore() error {
	if err := os.RemoveAll(c.storeDir); err != nil {
		return fmt.Errorf("failed to wipe credential store: %w", err)
	}
	return os.MkdirAll(c.storeDir, 0o700)
}

func (c *BackupCodec) readStore() (map[string][]byte, error) {
	snapshot := make(map[string][]byte)
	err := filepath.WalkDir(c.storeDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.storeDir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		snapshot[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (c *BackupCodec) writeBackupFile(backup *SessionBackup) error {
	data, err := json.Marshal(backup)
	if err != nil {
		return err
	}
	tmp := c.backupFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.backupFile)
}

// File contents are base64-wrapped inside the JSON document so the
// snapshot survives zero-byte files and embedded control bytes.
func encodeSnapshot(snapshot map[string][]byte) map[string]string {
	encoded := make(map[string]string, len(snapshot))
	for name, content := range snapshot {
		encoded[name] = base64.StdEncoding.EncodeToString(content)
	}
	return encoded
}

func decodeSnapshot(encoded map[string]string) (map[string][]byte, error) {
	snapshot := make(map[string][]byte, len(encoded))
	for name, content := range encoded {
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %v", name, err)
		}
		snapshot[name] = data
	}
	return snapshot, nil
}
