package cmd

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/flowstatus/pkg/diskspace"
	"github.com/3leaps/flowstatus/pkg/notify"
)

type capturedMail struct {
	sent []notify.Message
}

func (m *capturedMail) Send(_ context.Context, msg notify.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

func TestDiskspaceCommand(t *testing.T) {
	e := newEnv(t)

	out, err := runCLI(t, "diskspace", "--json", "--config", e.config)
	require.NoError(t, err)

	var usage []diskspace.Usage
	require.NoError(t, json.Unmarshal([]byte(out), &usage))
	require.Len(t, usage, 1)
	assert.Equal(t, filepath.Join(e.root, "data"), usage[0].Path)
	assert.NotZero(t, usage[0].TotalBytes)

	out, err = runCLI(t, "diskspace", "--config", e.config)
	require.NoError(t, err)
	assert.Contains(t, out, "USE%")
	assert.Contains(t, out, filepath.Join(e.root, "data"))
}

func TestAlertDiskUsage(t *testing.T) {
	mail := &capturedMail{}
	noon := func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.Local) }
	notifier := notify.New(notify.Config{Hours: []int{12}}, mail, zap.NewNop(), notify.WithClock(noon))

	usage := []diskspace.Usage{
		{Path: "/data/nas1", Percent: 95, FreeBytes: 2 << 30},
		{Path: "/data/nas2", Percent: 40},
		{Path: "/data/gone", Error: "statfs /data/gone: no such file or directory"},
	}
	alertDiskUsage(context.Background(), notifier, usage, 90, zap.NewNop())

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "WARNING, Low disk space", mail.sent[0].Subject)
	assert.Contains(t, mail.sent[0].Body, "/data/nas1 is 95% full (2.0 GiB free)")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "3.0 TiB", formatBytes(3<<40))
}
