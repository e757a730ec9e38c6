package evidence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/flowstatus/pkg/status"
	"github.com/3leaps/flowstatus/pkg/statustree"
)

type fakeLIMS map[string][]string

func (f fakeLIMS) LoadedSamples(_ context.Context, run string) ([]string, error) {
	s, ok := f[run]
	if !ok {
		return nil, ErrLIMSNotFound
	}
	return s, nil
}

const ontRunName = "20240115_1234_MN12345_FAX12345_abcdef12"

func TestONTCollect(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ontRunName)
	writeFile(t, filepath.Join(dir, "pod5_pass", "a.pod5"), "")
	lims := fakeLIMS{ontRunName: {"P100_201", "P100_202", "P200_1"}}

	ev, err := NewONTRun(dir, lims).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ontRunName, ev.RunID)
	assert.Equal(t, status.Sequencing, ev.Status())
	assert.Equal(t, []statustree.Leaf{
		{Flowcell: ontRunName, Lane: "0", Sample: "P100_201", Project: "P100"},
		{Flowcell: ontRunName, Lane: "0", Sample: "P100_202", Project: "P100"},
		{Flowcell: ontRunName, Lane: "0", Sample: "P200_1", Project: "P200"},
	}, ev.Tree.Leaves())

	writeFile(t, filepath.Join(dir, "final_summary_FAX12345_abcdef12.txt"), "")
	ev, err = NewONTRun(dir, lims).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.New, ev.Status())
}

func TestONTCollect_LIMSErrors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ontRunName)
	writeFile(t, filepath.Join(dir, "report_x.html"), "")

	ev, err := NewONTRun(dir, fakeLIMS{}).Collect(context.Background())
	require.Error(t, err)
	assert.True(t, IsMissing(err))
	assert.Equal(t, status.Sequencing, ev.Status())

	_, err = NewONTRun(dir, fakeLIMS{ontRunName: nil}).Collect(context.Background())
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestONTObservation_Classify(t *testing.T) {
	assert.Equal(t, status.New, ONTObservation{Demux: DemuxFinished}.Classify())
	assert.Equal(t, status.Sequencing, ONTObservation{Demux: DemuxOngoing}.Classify())
	assert.Equal(t, status.Error, ONTObservation{Demux: DemuxNotStarted}.Classify())
}
