package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/actionforge/flowrun/core"
)

type memoryVersion struct {
	digest    string
	createdAt time.Time
	raw       []byte
}

type memoryRun struct {
	version int
	raw     []byte
}

// MemoryStore keeps everything in process. Documents are stored encoded
// so callers never share maps with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]memoryVersion
	runs     map[string][]memoryRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: map[string][]memoryVersion{},
		runs:     map[string][]memoryRun{},
	}
}

func (s *MemoryStore) SaveVersion(ctx context.Context, workflowId string, doc core.Document) (Snapshot, error) {
	if err := checkWorkflowId(workflowId); err != nil {
		return Snapshot{}, err
	}

	raw, digest, err := encodeDocument(doc)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	v := memoryVersion{
		digest:    digest,
		createdAt: timeNow(),
		raw:       raw,
	}
	s.versions[workflowId] = append(s.versions[workflowId], v)
	version := len(s.versions[workflowId])
	s.mu.Unlock()

	return decodeSnapshot(workflowId, version, v.digest, v.createdAt, v.raw)
}

func (s *MemoryStore) GetVersion(ctx context.Context, workflowId string, version int) (Snapshot, error) {
	s.mu.RLock()
	versions := s.versions[workflowId]
	if version < 1 || version > len(versions) {
		s.mu.RUnlock()
		return Snapshot{}, notFound(workflowId, version)
	}
	v := versions[version-1]
	s.mu.RUnlock()

	return decodeSnapshot(workflowId, version, v.digest, v.createdAt, v.raw)
}

func (s *MemoryStore) LatestVersion(ctx context.Context, workflowId string) (Snapshot, error) {
	s.mu.RLock()
	n := len(s.versions[workflowId])
	s.mu.RUnlock()

	if n == 0 {
		return Snapshot{}, notFound(workflowId, 0)
	}
	return s.GetVersion(ctx, workflowId, n)
}

func (s *MemoryStore) ListVersions(ctx context.Context, workflowId string) ([]Snapshot, error) {
	s.mu.RLock()
	versions := slices.Clone(s.versions[workflowId])
	s.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(versions))
	for i, v := range versions {
		snap, err := decodeSnapshot(workflowId, i+1, v.digest, v.createdAt, v.raw)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (s *MemoryStore) SaveRun(ctx context.Context, workflowId string, version int, run *core.RunState) error {
	if err := checkWorkflowId(workflowId); err != nil {
		return err
	}

	raw, err := encodeRun(run)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[workflowId] = append(s.runs[workflowId], memoryRun{version: version, raw: raw})
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, workflowId string) ([]RunRecord, error) {
	s.mu.RLock()
	runs := slices.Clone(s.runs[workflowId])
	s.mu.RUnlock()

	records := make([]RunRecord, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		run, err := decodeRun(runs[i].raw)
		if err != nil {
			return nil, err
		}
		records = append(records, RunRecord{
			WorkflowId: workflowId,
			Version:    runs[i].version,
			Run:        run,
		})
	}
	return records, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
