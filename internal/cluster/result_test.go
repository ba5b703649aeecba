package cluster

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-cluster/internal/face"
)

func makeRecords(n int) []face.Record {
	records := make([]face.Record, n)
	for i := range records {
		records[i] = face.Record{
			ID:        fmt.Sprintf("f%d", i),
			Embedding: []float32{float32(i), 1},
			Metadata:  face.Metadata{ImageID: "img", FaceIndex: i, Confidence: 0.9},
		}
	}
	return records
}

func TestResolve(t *testing.T) {
	tests := []struct {
		label int
		want  string
	}{
		{NoiseLabel, "unclustered"},
		{0, "person_0"},
		{7, "person_7"},
		{123, "person_123"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Resolve(tt.label))
	}
	assert.Equal(t, Resolve(3), Resolve(3))
}

func TestAssemble_Partition(t *testing.T) {
	records := makeRecords(7)
	labels := []int{1, 0, NoiseLabel, 1, 2, NoiseLabel, 0}

	res, err := Assemble(records, labels)
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Equal(t, map[string][]string{
		"person_0":    {"f1", "f6"},
		"person_1":    {"f0", "f3"},
		"person_2":    {"f4"},
		"unclustered": {"f2", "f5"},
	}, res.Clusters)

	seen := make(map[string]int)
	for _, members := range res.Clusters {
		for _, id := range members {
			seen[id]++
		}
	}
	require.Len(t, seen, len(records))
	for _, rec := range records {
		assert.Equal(t, 1, seen[rec.ID], rec.ID)
		assert.Equal(t, rec.Embedding, res.Embeddings[rec.ID])
		assert.Equal(t, rec.Metadata, res.Metadata[rec.ID])
	}
	assert.Len(t, res.Embeddings, len(records))
	assert.Len(t, res.Metadata, len(records))
	assert.Equal(t, 3, res.UniquePersons())
}

func TestAssemble_OnlyNoise(t *testing.T) {
	res, err := Assemble(makeRecords(2), []int{NoiseLabel, NoiseLabel})
	require.NoError(t, err)
	assert.Equal(t, 0, res.UniquePersons())
	assert.Equal(t, []string{"f0", "f1"}, res.Clusters[UnclusteredID])
}

func TestAssemble_Empty(t *testing.T) {
	res, err := Assemble(nil, []int{})
	require.NoError(t, err)
	assert.Empty(t, res.Clusters)
	assert.Equal(t, 0, res.UniquePersons())
}

func TestAssemble_LengthMismatch(t *testing.T) {
	_, err := Assemble(makeRecords(3), []int{0, 0})
	require.ErrorIs(t, err, ErrLengthMismatch)

	var lenErr *LengthMismatchError
	require.ErrorAs(t, err, &lenErr)
	assert.Equal(t, 3, lenErr.Records)
	assert.Equal(t, 2, lenErr.Labels)
}

func TestAssemble_DuplicateID(t *testing.T) {
	records := makeRecords(3)
	records[2].ID = "f0"

	_, err := Assemble(records, []int{0, 0, 1})
	require.ErrorIs(t, err, face.ErrDuplicateID)
}
