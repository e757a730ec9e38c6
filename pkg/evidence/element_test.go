package evidence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/flowstatus/pkg/status"
	"github.com/3leaps/flowstatus/pkg/statustree"
)

const elementParams = `{
  "RunName": "run-42",
  "FlowcellID": "2412345678",
  "Date": "2024-01-15T10:11:12.123456Z",
  "InstrumentName": "AV242106",
  "Side": "SideA"
}`

const indexAssignment = `SampleNumber,SampleName,I1Mismatch,Lane
1,P12345_1001,0,1
2,P12345_1002,0,2
3,PhiX,0,1
4,Unassigned,0,1
`

func elementFixture(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "20240115_AV242106_A2412345678")
	writeFile(t, filepath.Join(dir, "RunParameters.json"), elementParams)
	return dir
}

func TestElementCollect(t *testing.T) {
	dir := elementFixture(t)
	run := NewElementRun(dir, "")

	ev, err := run.Collect(context.Background())
	require.Error(t, err)
	assert.True(t, IsMissing(err))
	require.NotNil(t, ev)
	assert.Equal(t, "20240115_AV242106_A2412345678", ev.RunID)
	assert.Equal(t, status.Sequencing, ev.Status())

	writeFile(t, filepath.Join(dir, "Demultiplexing", "IndexAssignment.csv"), indexAssignment)
	ev, err = run.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Demultiplexing, ev.Status())
	assert.Equal(t, []statustree.Leaf{
		{Flowcell: "2412345678", Lane: "1", Sample: "P12345_1001", Project: "P12345"},
		{Flowcell: "2412345678", Lane: "2", Sample: "P12345_1002", Project: "P12345"},
	}, ev.Tree.Leaves())

	writeFile(t, filepath.Join(dir, ".rsync_in_progress"), "")
	ev, err = run.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Transferring, ev.Status())

	writeFile(t, filepath.Join(dir, ".rsync_exit_status"), "0\n")
	ev, err = run.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.New, ev.Status())
}

func TestElementCollect_TransferLog(t *testing.T) {
	dir := elementFixture(t)
	log := filepath.Join(t.TempDir(), "transfer.tsv")
	writeFile(t, log, "20240101_AV1_B1\t2024-01-02\n20240115_AV242106_A2412345678\t2024-01-16\n")

	ev, err := NewElementRun(dir, log).Collect(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.New, ev.Status())
}

func TestElementCollect_NotReady(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "20240115_AV242106_A2412345678")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	ev, err := NewElementRun(dir, "").Collect(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotReady(err))
	assert.Nil(t, ev)
}

func TestElementCollect_MissingColumns(t *testing.T) {
	dir := elementFixture(t)
	writeFile(t, filepath.Join(dir, "Demultiplexing", "IndexAssignment.csv"), "Name,Count\nP1_1,3\n")

	_, err := NewElementRun(dir, "").Collect(context.Background())
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestElementRunDate(t *testing.T) {
	d, err := elementRunDate("2024-01-15T10:11:12Z")
	require.NoError(t, err)
	assert.Equal(t, "20240115", d)

	d, err = elementRunDate("2024-01-15 10:11")
	require.NoError(t, err)
	assert.Equal(t, "20240115", d)

	_, err = elementRunDate("yesterday")
	require.Error(t, err)
}

func TestElementObservation_Classify(t *testing.T) {
	cases := []struct {
		obs  ElementObservation
		want status.Status
	}{
		{ElementObservation{Transfer: TransferTransferred, Demux: DemuxOngoing}, status.New},
		{ElementObservation{Transfer: TransferRsyncDone}, status.New},
		{ElementObservation{Transfer: TransferInProgress, Demux: DemuxFinished}, status.Transferring},
		{ElementObservation{Transfer: TransferNotStarted, Demux: DemuxFinished}, status.Demultiplexing},
		{ElementObservation{Transfer: TransferNotStarted, Demux: DemuxNotStarted}, status.Sequencing},
		{ElementObservation{Transfer: TransferNotStarted, Demux: DemuxNotStarted, SequencingDone: true}, status.Error},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.obs.Classify(), "%+v", tc.obs)
	}
}
