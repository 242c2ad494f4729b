package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/actionforge/flowrun/core"
	"github.com/actionforge/flowrun/nodes"
	"github.com/actionforge/flowrun/store"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkflow = `{
  "version": 1,
  "nodes": [
    {"id": "t", "kind": "text", "position": {"x": 0, "y": 0}, "data": {"text": "describe this"}},
    {"id": "i", "kind": "upload-image", "position": {"x": 0, "y": 200}, "data": {"imageUrl": "https://example.com/cat.png"}},
    {"id": "l", "kind": "llm", "position": {"x": 300, "y": 0}, "data": {"model": "gpt-4o"}}
  ],
  "edges": [
    {"id": "t-output-l-user_message", "source": "t", "sourceHandle": "output", "target": "l", "targetHandle": "user_message"},
    {"id": "i-output-l-images", "source": "i", "sourceHandle": "output", "target": "l", "targetHandle": "images"}
  ]
}`

func writeTestWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, formatJson, formatOf("a.json"))
	assert.Equal(t, formatJson, formatOf("a"))
	assert.Equal(t, formatYaml, formatOf("a.YML"))
	assert.Equal(t, formatYaml, formatOf("dir.v1/a.yaml"))
	assert.Equal(t, formatToml, formatOf("a.toml"))

	assert.NoError(t, checkFormat(formatToml))
	assert.ErrorContains(t, checkFormat("xml"), "unknown format 'xml'")
}

func TestEncodeDecode_AllFormats(t *testing.T) {
	g, err := loadWorkflow(writeTestWorkflow(t, testWorkflow))
	require.NoError(t, err)
	want := core.Serialize(g)

	for _, format := range []string{formatJson, formatYaml, formatToml} {
		t.Run(format, func(t *testing.T) {
			b, err := encodeDocument(want, format)
			require.NoError(t, err)

			got, err := decodeDocument(b, format)
			require.NoError(t, err)

			// numbers may change their go type between formats, compare the json form
			wantJson, err := core.MarshalDocument(want)
			require.NoError(t, err)
			gotJson, err := core.MarshalDocument(got)
			require.NoError(t, err)
			if diff := cmp.Diff(string(wantJson), string(gotJson)); diff != "" {
				t.Errorf("%s round trip mismatch (-want +got):\n%s", format, diff)
			}
		})
	}

	_, err = decodeDocument([]byte("nodes: [\n"), formatYaml)
	assert.ErrorIs(t, err, core.ErrInvalidFormat)
	_, err = decodeDocument([]byte("version = "), formatToml)
	assert.ErrorIs(t, err, core.ErrInvalidFormat)
}

func TestLoadWorkflow_Errors(t *testing.T) {
	_, err := loadWorkflow(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = loadWorkflow(writeTestWorkflow(t, `{"version": 1, "nodes": [{"id": "x", "kind": "video-filter", "data": {}}], "edges": []}`))
	assert.ErrorIs(t, err, core.ErrUnknownNodeKind)

	_, err = loadWorkflow(writeTestWorkflow(t, `{"version": 2, "nodes": [], "edges": []}`))
	assert.ErrorIs(t, err, core.ErrUnsupportedVersion)
}

func TestCreateAndChainNodes(t *testing.T) {
	reg, err := nodes.DefaultRegistry()
	require.NoError(t, err)

	g, err := createNodes(reg, []string{"upload-image", "crop-image", "llm"})
	require.NoError(t, err)
	require.Len(t, g.Nodes, 3)
	assert.Equal(t, 200.0, g.Nodes[0].Position.X)
	assert.Equal(t, 520.0, g.Nodes[1].Position.X)
	assert.Equal(t, "Crop Image", g.Nodes[1].Data["label"])

	require.NoError(t, chainNodes(g))
	require.Len(t, g.Edges, 2)
	assert.Equal(t, nodes.CropImageInputImageUrl, g.Edges[0].TargetHandle)
	// images is the only input that accepts an image
	assert.Equal(t, nodes.LlmInputImages, g.Edges[1].TargetHandle)

	// text prefers the required user message over the system prompt
	g, err = createNodes(reg, []string{"text", "llm"})
	require.NoError(t, err)
	require.NoError(t, chainNodes(g))
	assert.Equal(t, nodes.LlmInputUserMessage, g.Edges[0].TargetHandle)

	// a text node has no inputs at all
	g, err = createNodes(reg, []string{"upload-image", "text"})
	require.NoError(t, err)
	err = chainNodes(g)
	assert.ErrorContains(t, err, "no input of 'text' accepts the image output of 'upload-image'")
	var leafErr *core.LeafError
	require.ErrorAs(t, err, &leafErr)
	assert.Contains(t, leafErr.Hint, "Outputs of type image connect to image inputs.")

	_, err = createNodes(reg, []string{"text", "nope"})
	assert.ErrorIs(t, err, core.ErrUnknownNodeKind)
	require.ErrorAs(t, err, &leafErr)
	assert.Equal(t, "Known node kinds: text, upload-image, upload-video, crop-image, extract-frame, llm", leafErr.Hint)
}

func TestConvertWorkflow(t *testing.T) {
	src := writeTestWorkflow(t, testWorkflow)
	dir := t.TempDir()

	yamlFile := filepath.Join(dir, "w.yaml")
	require.NoError(t, convertWorkflow(src, formatYaml, yamlFile))

	tomlFile := filepath.Join(dir, "w.toml")
	require.NoError(t, convertWorkflow(yamlFile, formatToml, tomlFile))

	jsonFile := filepath.Join(dir, "w.json")
	require.NoError(t, convertWorkflow(tomlFile, formatJson, jsonFile))

	original, err := loadWorkflow(src)
	require.NoError(t, err)
	converted, err := loadWorkflow(jsonFile)
	require.NoError(t, err)

	a, err := core.MarshalDocument(core.Serialize(original))
	require.NoError(t, err)
	b, err := core.MarshalDocument(core.Serialize(converted))
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))

	assert.Error(t, convertWorkflow(src, "xml", ""))
}

func TestWriteCatalog(t *testing.T) {
	reg, err := nodes.DefaultRegistry()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeCatalog(&buf, reg, formatText))
	text := buf.String()
	assert.Contains(t, text, "Llm\n")
	assert.Contains(t, text, "in:  system_prompt:text, user_message:text(required), images:image(multiple)")
	assert.Contains(t, text, "casts: images<-image|text\n")
	assert.Contains(t, text, "casts: image_url<-image|text\n")
	assert.NotContains(t, text, "system_prompt<-")
	assert.Less(t, strings.Index(text, "Text\n"), strings.Index(text, "Image\n"))

	buf.Reset()
	require.NoError(t, writeCatalog(&buf, reg, formatJson))
	var defs []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &defs))
	require.Len(t, defs, 6)
	assert.Equal(t, "text", defs[0]["kind"])

	buf.Reset()
	require.NoError(t, writeCatalog(&buf, reg, formatIni))
	ini := buf.String()
	assert.Contains(t, ini, "[crop-image]")
	assert.Contains(t, ini, "image_url:image(required)")
	assert.Contains(t, ini, "`#10B981`")

	buf.Reset()
	require.NoError(t, writeCatalog(&buf, reg, formatYaml))
	assert.Contains(t, buf.String(), "kind: extract-frame")

	assert.Error(t, writeCatalog(&buf, reg, "csv"))
}

func TestSummarizeOutput(t *testing.T) {
	assert.Equal(t, "hello", summarizeOutput("hello"))
	assert.Equal(t, `{"url":"https://x"}`, summarizeOutput(map[string]any{"url": "https://x"}))

	long := strings.Repeat("ä", maxOutputLength+10)
	s := summarizeOutput(long)
	assert.Equal(t, maxOutputLength+1, len([]rune(s)))
	assert.True(t, strings.HasSuffix(s, "…"))
}

func resetRunFlags(t *testing.T) {
	t.Cleanup(func() {
		flagRunNodes = nil
		flagRunStore = ""
		flagRunWorkflow = ""
		flagRunOutputJson = false
		flagMetricsFile = ""
	})
}

func TestRunWorkflowFile(t *testing.T) {
	resetRunFlags(t)

	dbPath := filepath.Join(t.TempDir(), "flowrun.db")
	metricsPath := filepath.Join(t.TempDir(), "flowrun.prom")
	flagRunStore = "sqlite:" + dbPath
	flagRunWorkflow = "cats"
	flagMetricsFile = metricsPath

	path := writeTestWorkflow(t, testWorkflow)
	require.NoError(t, runWorkflowFile(path))

	// only the llm node, its inputs come from the recorded run
	flagRunNodes = []string{"l"}
	require.NoError(t, runWorkflowFile(path))

	st, err := store.Open(context.Background(), flagRunStore)
	require.NoError(t, err)
	defer st.Close()

	versions, err := st.ListVersions(context.Background(), "cats")
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	runs, err := st.(store.RunStore).ListRuns(context.Background(), "cats")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, core.RunScopeSingleNode, runs[0].Run.Scope)
	assert.Equal(t, core.RunStatusSuccess, runs[0].Run.Status)
	assert.Equal(t, "[gpt-4o] describe this", runs[0].Run.Outputs()["l"])

	b, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), `flowrun_runs_total{scope="single_node",status="success"} 1`)
}

func TestRunWorkflowFile_Failures(t *testing.T) {
	resetRunFlags(t)

	assert.ErrorContains(t, runWorkflowFile(""), "no workflow file given")

	// the llm has no user message
	invalid := writeTestWorkflow(t, `{"version": 1, "nodes": [{"id": "l", "kind": "llm", "data": {}}], "edges": []}`)
	err := runWorkflowFile(invalid)
	assert.ErrorContains(t, err, "is invalid")

	// an upload without url fails at run time
	failing := writeTestWorkflow(t, `{"version": 1, "nodes": [{"id": "i", "kind": "upload-image", "data": {}}], "edges": []}`)
	assert.ErrorIs(t, runWorkflowFile(failing), errRunFailed)

	flagRunStore = "sqlite:" + filepath.Join(t.TempDir(), "x.db")
	assert.ErrorContains(t, runWorkflowFile(failing), "no workflow id")
}

func TestSaveWorkflow(t *testing.T) {
	t.Cleanup(func() {
		flagStoreUri = ""
		flagStoreWorkflow = ""
	})

	path := writeTestWorkflow(t, testWorkflow)
	ctx := context.Background()

	assert.ErrorContains(t, saveWorkflow(ctx, path), "no store configured")

	flagStoreUri = "sqlite:" + filepath.Join(t.TempDir(), "flowrun.db")
	flagStoreWorkflow = "cats"
	require.NoError(t, saveWorkflow(ctx, path))
	require.NoError(t, saveWorkflow(ctx, path))

	changed := strings.Replace(testWorkflow, "describe this", "describe that", 1)
	require.NoError(t, saveWorkflow(ctx, writeTestWorkflow(t, changed)))

	st, err := store.Open(ctx, flagStoreUri)
	require.NoError(t, err)
	defer st.Close()

	latest, err := st.LatestVersion(ctx, "cats")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "describe that", latest.Document.Nodes[0].Data["text"])

	require.NoError(t, showHistory(ctx))
}
