package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
)

// AuditLog is the append-only event trail of every job. Entries are never
// rewritten or compacted.
type AuditLog interface {
	Append(ctx context.Context, entry model.AuditEntry) error
	Entries(ctx context.Context, jobID string) ([]model.AuditEntry, error)
}

type fileAuditLog struct {
	dir   string
	locks jobLocks
}

// NewFileAuditLog writes one line-delimited JSON file per job: <dir>/<job_id>.jsonl.
func NewFileAuditLog(dir string) (AuditLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &fileAuditLog{dir: dir}, nil
}

func (l *fileAuditLog) path(jobID string) string {
	return filepath.Join(l.dir, jobID+".jsonl")
}

func (l *fileAuditLog) Append(ctx context.Context, entry model.AuditEntry) error {
	if err := validateJobID(entry.JobID); err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("fileAuditLog.Append: encode: %w", err)
	}
	line = append(line, '\n')

	unlock := l.locks.lock(entry.JobID)
	defer unlock()

	f, err := os.OpenFile(l.path(entry.JobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("fileAuditLog.Append: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("fileAuditLog.Append: write: %w", err)
	}
	return f.Close()
}

func (l *fileAuditLog) Entries(ctx context.Context, jobID string) ([]model.AuditEntry, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	unlock := l.locks.lock(jobID)
	defer unlock()

	f, err := os.Open(l.path(jobID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.AuditEntry{}, nil
		}
		return nil, fmt.Errorf("fileAuditLog.Entries: %w", err)
	}
	defer f.Close()

	entries := []model.AuditEntry{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry model.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("fileAuditLog.Entries: decode %s: %w", jobID, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("fileAuditLog.Entries: %w", err)
	}
	return entries, nil
}
