package observability

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.RunSeen("illumina")
	m.RunSeen("illumina")
	m.RunSkipped("element", "not_ready")
	m.Leaf("created")
	m.Leaf("created")
	m.Leaf("failed")
	m.Notification("failed_run", true)
	m.Notification("failed_run", false)
	m.FlowcellAmbiguous()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runsSeen.WithLabelValues("illumina")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsSkipped.WithLabelValues("element", "not_ready")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.leaves.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("failed_run", "suppressed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ambiguous))
}

func TestMetrics_ObservePass(t *testing.T) {
	m := NewMetrics()
	ended := time.Unix(1700000000, 0)

	m.ObservePass("partial", 3*time.Second, ended)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.passDuration))
	assert.Zero(t, testutil.ToFloat64(m.lastSuccess))

	m.ObservePass("success", time.Second, ended)
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.lastSuccess))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues("success")))
}

func TestMetrics_WriteTextfileAndHandler(t *testing.T) {
	m := NewMetrics()
	m.Leaf("updated")

	path := filepath.Join(t.TempDir(), "textfile", "flowstatus.prom")
	require.NoError(t, m.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `flowstatus_leaves_total{action="updated"} 1`)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "flowstatus_leaves_total"))
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger("flowstatus", "debug", ProfileStructured)
	require.NoError(t, err)
	_, err = NewLogger("flowstatus", "info", ProfileConsole)
	require.NoError(t, err)

	_, err = NewLogger("flowstatus", "loud", ProfileConsole)
	assert.Error(t, err)
	_, err = NewLogger("flowstatus", "info", "fancy")
	assert.Error(t, err)
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("test", true)
	require.NotNil(t, CLILogger)
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
}
