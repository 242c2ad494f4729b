package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/actionforge/flowrun/core"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDocument(text string) core.Document {
	return core.Document{
		Version: core.CurrentVersion,
		Nodes: []core.GraphNode{
			{Id: "t", Kind: "text", Position: core.Position{X: 1, Y: 2}, Data: map[string]any{"text": text}},
			{Id: "l", Kind: "llm", Position: core.Position{X: 300, Y: 2}, Data: map[string]any{"model": "gemini-2.0-flash"}},
		},
		Edges: []core.GraphEdge{
			core.NewEdge("t", "output", "l", "user_message"),
		},
	}
}

func testVersionStore(t *testing.T, st VersionStore) {
	ctx := context.Background()
	workflowId := "wf-" + uuid.NewString()

	_, err := st.LatestVersion(ctx, workflowId)
	assert.ErrorIs(t, err, ErrNotFound)

	versions, err := st.ListVersions(ctx, workflowId)
	require.NoError(t, err)
	assert.Empty(t, versions)

	v1, err := st.SaveVersion(ctx, workflowId, testDocument("first"))
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, workflowId, v1.WorkflowId)
	assert.Len(t, v1.Digest, 64)
	assert.False(t, v1.CreatedAt.IsZero())

	v2, err := st.SaveVersion(ctx, workflowId, testDocument("second"))
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.NotEqual(t, v1.Digest, v2.Digest)

	// saving the same content again still creates a new version
	v3, err := st.SaveVersion(ctx, workflowId, testDocument("second"))
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)
	assert.Equal(t, v2.Digest, v3.Digest)

	got, err := st.GetVersion(ctx, workflowId, 1)
	require.NoError(t, err)
	if diff := cmp.Diff(testDocument("first"), got.Document); diff != "" {
		t.Errorf("version 1 mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, v1.Digest, got.Digest)

	latest, err := st.LatestVersion(ctx, workflowId)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)

	versions, err = st.ListVersions(ctx, workflowId)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, i+1, v.Version)
	}

	_, err = st.GetVersion(ctx, workflowId, 4)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetVersion(ctx, workflowId, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	// workflows do not share version numbers
	other, err := st.SaveVersion(ctx, workflowId+"-other", testDocument("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, other.Version)

	_, err = st.SaveVersion(ctx, "", testDocument("x"))
	assert.Error(t, err)

	// versions are immutable, changing a returned document changes nothing
	got.Document.Nodes[0].Data["text"] = "changed"
	again, err := st.GetVersion(ctx, workflowId, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", again.Document.Nodes[0].Data["text"])
}

func testConcurrentSaves(t *testing.T, st VersionStore) {
	ctx := context.Background()
	workflowId := "wf-" + uuid.NewString()

	const writers = 8
	var wg sync.WaitGroup
	results := make([]int, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := st.SaveVersion(ctx, workflowId, testDocument(fmt.Sprintf("writer %d", i)))
			if assert.NoError(t, err) {
				results[i] = snap.Version
			}
		}()
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, v := range results {
		assert.False(t, seen[v], "version %d allocated twice", v)
		seen[v] = true
	}
	for v := 1; v <= writers; v++ {
		assert.True(t, seen[v], "version %d missing", v)
	}
}

func testRun(status core.RunStatus, startedAt time.Time) *core.RunState {
	return &core.RunState{
		Id:        uuid.NewString(),
		Scope:     core.RunScopeFull,
		Status:    status,
		StartedAt: startedAt,
		Results: []core.NodeResult{
			{NodeId: "t", Kind: "text", Status: core.NodeStatusSuccess, Output: "hello"},
		},
		NodeStatus: map[string]core.NodeStatus{"t": core.NodeStatusSuccess},
	}
}

func testRunStore(t *testing.T, st RunStore) {
	ctx := context.Background()
	workflowId := "wf-" + uuid.NewString()

	runs, err := st.ListRuns(ctx, workflowId)
	require.NoError(t, err)
	assert.Empty(t, runs)

	now := time.Now().UTC()
	first := testRun(core.RunStatusSuccess, now.Add(-time.Minute))
	second := testRun(core.RunStatusFailed, now)

	require.NoError(t, st.SaveRun(ctx, workflowId, 1, first))
	require.NoError(t, st.SaveRun(ctx, workflowId, 2, second))

	runs, err = st.ListRuns(ctx, workflowId)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second.Id, runs[0].Run.Id)
	assert.Equal(t, 2, runs[0].Version)
	assert.Equal(t, core.RunStatusFailed, runs[0].Run.Status)

	assert.Equal(t, first.Id, runs[1].Run.Id)
	assert.Equal(t, "hello", runs[1].Run.Results[0].Output)
	assert.Equal(t, core.NodeStatusSuccess, runs[1].Run.NodeStatus["t"])
}

func TestMemoryStore(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()

	testVersionStore(t, st)
	testConcurrentSaves(t, st)
	testRunStore(t, st)
}

func TestSQLiteStore(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "flowrun.db"))
	require.NoError(t, err)
	defer st.Close()

	testVersionStore(t, st)
	testConcurrentSaves(t, st)
	testRunStore(t, st)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowrun.db")

	st, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = st.SaveVersion(context.Background(), "wf", testDocument("persisted"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer st.Close()

	latest, err := st.LatestVersion(context.Background(), "wf")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
	assert.Equal(t, "persisted", latest.Document.Nodes[0].Data["text"])
}

func TestMongoStore(t *testing.T) {
	mongoUrl := os.Getenv("ACT_TEST_MONGODB_URL")
	if mongoUrl == "" {
		t.Skip("ACT_TEST_MONGODB_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := NewMongoStore(ctx, MongoOpts{Url: mongoUrl, Database: "flowrun_test"})
	require.NoError(t, err)
	defer st.Close()

	testVersionStore(t, st)
	testConcurrentSaves(t, st)
}

func TestS3Store(t *testing.T) {
	bucket := os.Getenv("ACT_TEST_S3_BUCKET")
	if bucket == "" {
		t.Skip("ACT_TEST_S3_BUCKET not set")
	}

	st, err := NewS3Store(context.Background(), S3Opts{
		Bucket:   bucket,
		Prefix:   "flowrun-test/" + uuid.NewString(),
		Region:   os.Getenv("ACT_TEST_S3_REGION"),
		Endpoint: os.Getenv("ACT_TEST_S3_ENDPOINT"),
	})
	require.NoError(t, err)
	defer st.Close()

	testVersionStore(t, st)
}

func TestParseVersionKey(t *testing.T) {
	st := &S3Store{prefix: "flows"}

	key := st.versionKey("wf", 12)
	assert.Equal(t, "flows/wf/v0000000012.json", key)

	v, ok := parseVersionKey(key)
	assert.True(t, ok)
	assert.Equal(t, 12, v)

	for _, k := range []string{"flows/wf/", "flows/wf/readme.md", "flows/wf/v0.json", "flows/wf/vx.json"} {
		_, ok := parseVersionKey(k)
		assert.False(t, ok, k)
	}

	assert.Equal(t, "wf/v0000000001.json", (&S3Store{}).versionKey("wf", 1))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, "memory:")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)
	_, ok := st.(RunStore)
	assert.True(t, ok)

	path := filepath.Join(t.TempDir(), "open.db")
	st, err = Open(ctx, "sqlite://"+path)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, st)
	require.NoError(t, st.Close())
	assert.FileExists(t, path)

	_, err = Open(ctx, "sqlite:")
	assert.Error(t, err)

	_, err = Open(ctx, "ftp://host/x")
	assert.ErrorContains(t, err, "unsupported store scheme")

	_, err = Open(ctx, "no-scheme")
	assert.ErrorContains(t, err, "invalid store uri")
}

func TestSaveIfChanged(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	snap, created, err := SaveIfChanged(ctx, st, "wf", testDocument("a"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, snap.Version)

	snap, created, err = SaveIfChanged(ctx, st, "wf", testDocument("a"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, snap.Version)

	snap, created, err = SaveIfChanged(ctx, st, "wf", testDocument("b"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, snap.Version)

	digest, err := Digest(testDocument("b"))
	require.NoError(t, err)
	assert.Equal(t, snap.Digest, digest)

	_, _, err = SaveIfChanged(ctx, st, "", testDocument("b"))
	assert.Error(t, err)
}
