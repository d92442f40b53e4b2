package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
)

// JobStore persists one snapshot per submission job, keyed by job id.
type JobStore interface {
	Save(ctx context.Context, job *model.SubmissionJob) error
	Load(ctx context.Context, jobID string) (*model.SubmissionJob, error)
	List(ctx context.Context) ([]*model.SubmissionJob, error)
}

// EncodeSnapshot is the canonical on-disk encoding of a job.
func EncodeSnapshot(job *model.SubmissionJob) ([]byte, error) {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", job.JobID, err)
	}
	return append(data, '\n'), nil
}

// DecodeSnapshot parses a snapshot written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*model.SubmissionJob, error) {
	job := &model.SubmissionJob{}
	if err := json.Unmarshal(data, job); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if !job.Status.Valid() {
		return nil, fmt.Errorf("decode snapshot %s: unknown status %q", job.JobID, job.Status)
	}
	return job, nil
}

// jobLocks serialises writes per job id. Different ids never contend.
type jobLocks struct {
	m sync.Map
}

func (l *jobLocks) lock(jobID string) func() {
	v, _ := l.m.LoadOrStore(jobID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func validateJobID(jobID string) error {
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return fmt.Errorf("invalid job id %q: %w", jobID, common.ErrBadRequest)
	}
	return nil
}

type fileJobStore struct {
	dir   string
	locks jobLocks
}

// NewFileJobStore stores snapshots as <dir>/<job_id>.json.
func NewFileJobStore(dir string) (JobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job store dir: %w", err)
	}
	return &fileJobStore{dir: dir}, nil
}

func (s *fileJobStore) path(jobID string) string {
	return filepath.Join(s.dir, jobID+".json")
}

func (s *fileJobStore) Save(ctx context.Context, job *model.SubmissionJob) error {
	if err := validateJobID(job.JobID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeSnapshot(job)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(job.JobID)
	defer unlock()

	tmp, err := os.CreateTemp(s.dir, job.JobID+".*.tmp")
	if err != nil {
		return fmt.Errorf("fileJobStore.Save: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fileJobStore.Save: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fileJobStore.Save: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fileJobStore.Save: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path(job.JobID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fileJobStore.Save: rename: %w", err)
	}
	return nil
}

func (s *fileJobStore) Load(ctx context.Context, jobID string) (*model.SubmissionJob, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, common.ErrNotFound)
	}
	unlock := s.locks.lock(jobID)
	data, err := os.ReadFile(s.path(jobID))
	unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("job %s: %w", jobID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("fileJobStore.Load: %w", err)
	}
	return DecodeSnapshot(data)
}

func (s *fileJobStore) List(ctx context.Context) ([]*model.SubmissionJob, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("fileJobStore.List: %w", err)
	}
	var jobs []*model.SubmissionJob
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		job, err := s.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs, nil
}
