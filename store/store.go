package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/actionforge/flowrun/core"
	"github.com/actionforge/flowrun/utils"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version already exists")
)

var timeNow = func() time.Time {
	return time.Now().UTC()
}

// Snapshot is one immutable version of a workflow document.
type Snapshot struct {
	WorkflowId string        `json:"workflowId"`
	Version    int           `json:"version"`
	Digest     string        `json:"digest"`
	CreatedAt  time.Time     `json:"createdAt"`
	Document   core.Document `json:"document"`
}

// RunRecord is a finished run together with the workflow version it ran.
type RunRecord struct {
	WorkflowId string         `json:"workflowId"`
	Version    int            `json:"version"`
	Run        *core.RunState `json:"run"`
}

// VersionStore keeps the version history of workflows. Versions start
// at 1 and are never overwritten.
type VersionStore interface {
	SaveVersion(ctx context.Context, workflowId string, doc core.Document) (Snapshot, error)
	GetVersion(ctx context.Context, workflowId string, version int) (Snapshot, error)
	LatestVersion(ctx context.Context, workflowId string) (Snapshot, error)
	ListVersions(ctx context.Context, workflowId string) ([]Snapshot, error)
}

// RunStore keeps the history of runs, newest first.
type RunStore interface {
	SaveRun(ctx context.Context, workflowId string, version int, run *core.RunState) error
	ListRuns(ctx context.Context, workflowId string) ([]RunRecord, error)
}

type Store interface {
	VersionStore
	Close() error
}

// encodeDocument returns the canonical bytes of a document and their digest.
func encodeDocument(doc core.Document) ([]byte, string, error) {
	if doc.Version == 0 {
		doc.Version = core.CurrentVersion
	}
	if doc.Nodes == nil {
		doc.Nodes = []core.GraphNode{}
	}
	if doc.Edges == nil {
		doc.Edges = []core.GraphEdge{}
	}

	b, err := core.MarshalDocument(doc)
	if err != nil {
		return nil, "", core.CreateErr(err, "unable to encode workflow document")
	}
	return b, utils.GetSha256OfBytes(b), nil
}

// Digest returns the content digest a store would record for doc.
func Digest(doc core.Document) (string, error) {
	_, digest, err := encodeDocument(doc)
	return digest, err
}

// SaveIfChanged saves doc as a new version unless it equals the latest
// version. The returned bool reports whether a version was created.
func SaveIfChanged(ctx context.Context, st VersionStore, workflowId string, doc core.Document) (Snapshot, bool, error) {
	digest, err := Digest(doc)
	if err != nil {
		return Snapshot{}, false, err
	}

	latest, err := st.LatestVersion(ctx, workflowId)
	if err == nil && latest.Digest == digest {
		return latest, false, nil
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return Snapshot{}, false, err
	}

	snap, err := st.SaveVersion(ctx, workflowId, doc)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func decodeSnapshot(workflowId string, version int, digest string, createdAt time.Time, raw []byte) (Snapshot, error) {
	doc, err := core.DecodeDocument(raw)
	if err != nil {
		return Snapshot{}, core.CreateErr(err, "version %d of '%s' is corrupt", version, workflowId)
	}
	return Snapshot{
		WorkflowId: workflowId,
		Version:    version,
		Digest:     digest,
		CreatedAt:  createdAt,
		Document:   doc,
	}, nil
}

func encodeRun(run *core.RunState) ([]byte, error) {
	b, err := json.Marshal(run)
	if err != nil {
		return nil, core.CreateErr(err, "unable to encode run '%s'", run.Id)
	}
	return b, nil
}

func decodeRun(raw []byte) (*core.RunState, error) {
	var run core.RunState
	err := json.Unmarshal(raw, &run)
	if err != nil {
		return nil, core.CreateErr(err, "unable to decode run")
	}
	return &run, nil
}

func checkWorkflowId(workflowId string) error {
	if workflowId == "" {
		return core.CreateErr(nil, "workflow id is missing")
	}
	return nil
}

func notFound(workflowId string, version int) error {
	if version == 0 {
		return core.CreateErr(ErrNotFound, "workflow '%s' has no versions", workflowId)
	}
	return core.CreateErr(ErrNotFound, "version %d of workflow '%s' does not exist", version, workflowId)
}

func conflict(workflowId string, version int) error {
	return core.CreateErr(ErrVersionConflict, "version %d of workflow '%s' was saved concurrently", version, workflowId).
		SetHint("Another writer saved the same workflow at the same time. Save again to create the next version.")
}
