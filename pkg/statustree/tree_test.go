package statustree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/flowstatus/pkg/status"
)

func TestProjectOf(t *testing.T) {
	assert.Equal(t, "P12345", ProjectOf("P12345_101"))
	assert.Equal(t, "P1", ProjectOf("P1"))
	assert.Equal(t, "", ProjectOf(""))
}

func TestBuild(t *testing.T) {
	rows := []Row{
		{Lane: "1", Sample: "P12345_101", Project: "P12345"},
		{Lane: "1", Sample: "P12345_102", Project: "P12345"},
		{Lane: "2", Sample: "P12345_101", Project: "P12345"},
		{Lane: "2", Sample: "P12345_101", Project: "P99999"},
		{Lane: "1", Sample: "PhiX_control", Project: "PhiX"},
		{Lane: "", Sample: "P12345_103", Project: "P12345"},
		{Lane: "3", Sample: "", Project: "P12345"},
	}

	tree := Build("HXXXXDSX3", rows)
	require.False(t, tree.Empty())
	assert.Equal(t, []string{"HXXXXDSX3"}, tree.FlowcellIDs())

	leaves := tree.Leaves()
	assert.Equal(t, []Leaf{
		{Flowcell: "HXXXXDSX3", Lane: "1", Sample: "P12345_101", Project: "P12345"},
		{Flowcell: "HXXXXDSX3", Lane: "1", Sample: "P12345_102", Project: "P12345"},
		{Flowcell: "HXXXXDSX3", Lane: "2", Sample: "P12345_101", Project: "P12345"},
		{Flowcell: "HXXXXDSX3", Lane: "2", Sample: "P12345_101", Project: "P99999"},
	}, leaves)
}

func TestAddRejectsControls(t *testing.T) {
	tree := New()
	assert.False(t, tree.Add("FC", "1", "phiX", "phiX"))
	assert.False(t, tree.Add("FC", "1", "P1_PHIX_1", "P1"))
	assert.True(t, tree.Empty())
}

func TestFlowcellFold(t *testing.T) {
	tree := Build("FC1", []Row{
		{Lane: "1", Sample: "P1_101", Project: "P1"},
		{Lane: "1", Sample: "P1_102", Project: "P1"},
	})
	fc := tree.Flowcell("FC1")
	require.NotNil(t, fc)

	leaves := fc.Leaves()
	fc.Fold(leaves[0], status.Sequencing)
	fc.Fold(leaves[1], status.Failed)

	assert.True(t, fc.Value.IsAmbiguous())
	assert.True(t, fc.Lanes["1"].Value.IsAmbiguous())
	got, ok := fc.Lanes["1"].Samples["P1_102"].Value.Value()
	require.True(t, ok)
	assert.Equal(t, status.Failed, got)
}
