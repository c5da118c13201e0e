package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/repositories/mlindex"
)

func face(id string, fileID int64, score float64, emb ...float32) mlindex.FaceWithFile {
	return mlindex.FaceWithFile{Face: models.Face{
		ID:        id,
		FileID:    fileID,
		Detection: models.FaceDetection{Score: score},
		Embedding: emb,
	}}
}

func TestClusterFaces_SplitsByThreshold(t *testing.T) {
	faces := []mlindex.FaceWithFile{
		face("a", 1, 0.9, 1, 0, 0),
		face("b", 2, 0.95, 0.99, 0.1, 0),
		face("c", 3, 0.5, 0, 0, 1),
	}

	people := clusterFaces(faces, 0.76)
	require.Len(t, people, 2)

	assert.Equal(t, []int64{1, 2}, people[0].FileIDs)
	// highest-score face fronts the cluster
	assert.Equal(t, "b", people[0].DisplayFaceID)
	assert.Equal(t, []int64{3}, people[1].FileIDs)
}

func TestClusterFaces_DeduplicatesFileIDs(t *testing.T) {
	faces := []mlindex.FaceWithFile{
		face("a", 7, 0.9, 1, 0),
		face("b", 7, 0.8, 1, 0),
	}

	people := clusterFaces(faces, 0.76)
	require.Len(t, people, 1)
	assert.Equal(t, []int64{7}, people[0].FileIDs)
}

func TestClusterFaces_UnnormalizedEmbeddingsStillMatch(t *testing.T) {
	// magnitudes differ but directions agree
	faces := []mlindex.FaceWithFile{
		face("a", 1, 0.9, 10, 0),
		face("b", 2, 0.9, 0.5, 0),
	}

	people := clusterFaces(faces, 0.76)
	require.Len(t, people, 1)
}

func TestGroupThings_OneThingPerClassSorted(t *testing.T) {
	things := groupThings([]mlindex.ThingInput{
		{FileID: 2, ClassName: "tree"},
		{FileID: 1, ClassName: "cat"},
		{FileID: 2, ClassName: "cat"},
		{FileID: 1, ClassName: "cat"}, // duplicate detection on the same file
	})

	require.Len(t, things, 2)
	assert.Equal(t, "cat", things[0].Name)
	assert.Equal(t, []int64{1, 2}, things[0].FileIDs)
	assert.Equal(t, "tree", things[1].Name)
	assert.Equal(t, []int64{2}, things[1].FileIDs)
}
