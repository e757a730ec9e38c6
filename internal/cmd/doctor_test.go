package cmd

import (
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/flowstatus/internal/config"
	"github.com/3leaps/flowstatus/pkg/evidence"
)

func TestDoctorHealthyEnv(t *testing.T) {
	e := newEnv(t)
	_, err := runCLI(t, "doctor", "--config", e.config)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(e.root, "passes"))
}

func TestDoctorUnreachableStore(t *testing.T) {
	e := newEnv(t)
	cfg := filepath.Join(e.root, "couch.yaml")
	writeTestFile(t, cfg, `
logging:
  level: error
statusdb:
  backend: couchdb
  url: http://127.0.0.1:1
  timeout: 2s
`)

	_, err := runCLI(t, "doctor", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(err))
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestDoctorChecksTrackFailures(t *testing.T) {
	root := t.TempDir()

	check := &doctorCheck{num: 1, total: 2, ok: true}
	checkDataDirs(check, config.DataDirsConfig{Illumina: []string{root}})
	assert.True(t, check.ok)
	assert.Equal(t, 2, check.num)

	checkSamplesheetDirs(check, evidence.SamplesheetDirs{NovaSeq: filepath.Join(root, "gone")})
	assert.False(t, check.ok)
	assert.Equal(t, 3, check.num)
}

func TestDoctorDiskSpace(t *testing.T) {
	root := t.TempDir()

	check := &doctorCheck{num: 1, total: 3, ok: true}
	checkDiskSpace(check, []string{root}, 100)
	assert.True(t, check.ok, "nothing is over 100%")

	checkDiskSpace(check, nil, 90)
	assert.False(t, check.ok)
	assert.Equal(t, 3, check.num)
}
