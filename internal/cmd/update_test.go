package cmd

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/flowstatus/pkg/output"
	"github.com/3leaps/flowstatus/pkg/passregistry"
)

func showJSON(t *testing.T, e *env, extra ...string) []recordView {
	t.Helper()
	args := append([]string{"show", testRunID, "--config", e.config, "--format", "json"}, extra...)
	out, err := runCLI(t, args...)
	require.NoError(t, err)

	var views []recordView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	return views
}

func TestUpdateShowFail(t *testing.T) {
	e := newEnv(t)

	_, err := runCLI(t, "update", "--config", e.config)
	require.NoError(t, err)

	views := showJSON(t, e)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, "Sequencing", v.Status)
		assert.Equal(t, "P12345", v.Project)
		assert.Len(t, v.History, 1)
		assert.Equal(t, "system", v.History[0].User)
	}

	// Sequencing done and demultiplexing started.
	require.NoError(t, os.WriteFile(filepath.Join(e.runDir, "RTAComplete.txt"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(e.runDir, "Demultiplexing"), 0o755))

	_, err = runCLI(t, "update", "--config", e.config)
	require.NoError(t, err)

	views = showJSON(t, e)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, "Demultiplexing", v.Status)
		assert.Len(t, v.History, 2)
	}

	// A third pass over unchanged evidence writes nothing.
	_, err = runCLI(t, "update", "--config", e.config)
	require.NoError(t, err)
	views = showJSON(t, e)
	assert.Len(t, views[0].History, 2)

	out, err := runCLI(t, "fail", testRunID, "--config", e.config, "--project", "P12345")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = runCLI(t, "fail", testRunID, "--config", e.config)
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)

	out, err = runCLI(t, "show", testRunID, "--config", e.config)
	require.NoError(t, err)
	assert.Contains(t, out, "status: Failed")
	assert.Contains(t, out, "user: system/operator")

	// Every pass left a record and a report.
	registry := passregistry.NewStore(filepath.Join(e.root, "passes"))
	passes, err := registry.List()
	require.NoError(t, err)
	require.Len(t, passes, 3)
	for _, p := range passes {
		assert.Equal(t, passregistry.PassStateSuccess, p.State)
		assert.FileExists(t, p.ReportPath)
	}
	newest := passes[0]
	assert.Equal(t, int64(2), newest.Counts.LeavesUnchanged)

	out, err = runCLI(t, "passes", "--config", e.config, "--json")
	require.NoError(t, err)
	var listed []passregistry.PassRecord
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	assert.Len(t, listed, 3)

	out, err = runCLI(t, "passes", "--config", e.config, "--limit", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "PASS ID")
	assert.Contains(t, lines[1], "success")
}

func TestUpdateRunMidMoveIsStable(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.Mkdir(filepath.Join(e.runDir, "Demultiplexing"), 0o755))
	moved := filepath.Join(e.root, "data", "nosync", testRunID)
	writeTestFile(t, filepath.Join(moved, "RunParameters.xml"), testRunParms)

	for i := 0; i < 3; i++ {
		_, err := runCLI(t, "update", "--config", e.config)
		require.NoError(t, err)
	}

	views := showJSON(t, e)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, "New", v.Status)
		assert.Len(t, v.History, 1)
	}
}

func TestUpdateDryRun(t *testing.T) {
	e := newEnv(t)

	out, err := runCLI(t, "update", "--config", e.config, "--dry-run")
	require.NoError(t, err)

	types := map[string]int{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var rec output.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.True(t, rec.DryRun)
		types[rec.Type]++
	}
	assert.Equal(t, 2, types[output.TypeLeaf])
	assert.Equal(t, 1, types[output.TypeRun])
	assert.Equal(t, 1, types[output.TypeSummary])

	_, err = runCLI(t, "show", testRunID, "--config", e.config)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))
}

func TestUpdateMissingSamplesheetIsPartial(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.RemoveAll(filepath.Join(e.root, "samplesheets")))

	report := filepath.Join(e.root, "report.jsonl")
	_, err := runCLI(t, "update", "--config", e.config, "--report", report)
	require.NoError(t, err)

	passes, err := passregistry.NewStore(filepath.Join(e.root, "passes")).List()
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, passregistry.PassStatePartial, passes[0].State)
	assert.Equal(t, report, passes[0].ReportPath)

	b, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(b), output.ErrCodeManifestMissing)
}

func TestUpdateInvalidBrand(t *testing.T) {
	e := newEnv(t)
	_, err := runCLI(t, "update", "--config", e.config, "--brand", "pacbio")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestFailUnreachableStoreNamesMaskedEndpoint(t *testing.T) {
	e := newEnv(t)
	cfg := filepath.Join(e.root, "couch.yaml")
	writeTestFile(t, cfg, `
logging:
  level: error
statusdb:
  backend: couchdb
  url: 127.0.0.1:1
  username: flow
  password: s3cret
  timeout: 2s
`)

	out, err := runCLI(t, "fail", testRunID, "--config", cfg)
	require.Error(t, err)
	assert.Empty(t, out)
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(err))
	assert.Contains(t, err.Error(), "flow:*****@127.0.0.1:1")
}

func TestShowInvalidFormat(t *testing.T) {
	e := newEnv(t)
	_, err := runCLI(t, "show", testRunID, "--config", e.config, "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestSelectBrands(t *testing.T) {
	e := newEnv(t)
	_, err := runCLI(t, "passes", "--config", e.config)
	require.NoError(t, err)

	brands, err := selectBrands(appConfig, nil)
	require.NoError(t, err)
	assert.Equal(t, "illumina", string(brands[0]))

	brands, err = selectBrands(appConfig, []string{"ont", "element", "ont"})
	require.NoError(t, err)
	assert.Len(t, brands, 2)

	_, err = selectBrands(appConfig, []string{"pacbio"})
	assert.Error(t, err)
}
