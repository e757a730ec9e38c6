package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const (
	testRunID    = "190201_A00621_0032_BHHFCFDSXX"
	testSheet    = "[Header]\nDate,2019-02-01\n[Data]\nFCID,Lane,SampleID,SampleName,Index\nHHFCFDSXX,1,Sample_P12345_1001,P12345_1001,ACGT\nHHFCFDSXX,2,Sample_P12345_1002,P12345_1002,ACGT\n"
	testRunParms = `<?xml version="1.0"?><RunParameters><Application>NovaSeq Control Software</Application></RunParameters>`
)

// env is a scratch deployment: data dirs, samplesheets, a SQLite store and a
// config file pointing at them.
type env struct {
	root    string
	runDir  string
	config  string
	stateDB string
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", root)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, ".config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(root, ".state"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, ".data"))

	e := &env{
		root:    root,
		runDir:  filepath.Join(root, "data", testRunID),
		config:  filepath.Join(root, "flowstatus.yaml"),
		stateDB: filepath.Join(root, "status.db"),
	}
	writeTestFile(t, filepath.Join(e.runDir, "RunParameters.xml"), testRunParms)
	writeTestFile(t, filepath.Join(root, "samplesheets", "novaseq", "2019", "HHFCFDSXX.csv"), testSheet)

	writeTestFile(t, e.config, fmt.Sprintf(`
logging:
  level: error
data_dirs:
  illumina: [%[1]s/data]
samplesheets:
  novaseq: %[1]s/samplesheets/novaseq
statusdb:
  backend: sqlite
  path: %[2]s
lease:
  backend: file
  dir: %[1]s/leases
pass:
  state_dir: %[1]s/passes
  report: true
`, root, e.stateDB))
	return e
}

// resetFlags restores every flag to its default so commands can run more than
// once per test binary.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// runCLI executes the root command and returns its stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	appConfig = nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}
