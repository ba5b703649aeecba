package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-cluster/internal/cluster"
	"github.com/kozaktomas/face-cluster/internal/detector"
	"github.com/kozaktomas/face-cluster/internal/face"
	"github.com/kozaktomas/face-cluster/internal/imagestore"
	"github.com/kozaktomas/face-cluster/internal/metric"
)

// fakeDetector answers by image bytes.
type fakeDetector struct {
	mu      sync.Mutex
	results map[string][]face.Detection
	fail    map[string]error
	calls   int
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{results: map[string][]face.Detection{}, fail: map[string]error{}}
}

func (d *fakeDetector) Detect(_ context.Context, data []byte) (*detector.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if err, ok := d.fail[string(data)]; ok {
		return nil, err
	}
	return &detector.Result{Model: "fake", Detections: d.results[string(data)]}, nil
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func det(index int, box face.BBox, score float64, emb ...float32) face.Detection {
	return face.Detection{Index: index, BBox: box, Confidence: score, Embedding: emb}
}

func dbscanOptions() Options {
	return Options{
		Clustering: cluster.Params{
			Algorithm:  cluster.DBSCAN,
			Eps:        0.4,
			MinSamples: 1,
			Metric:     metric.Cosine,
		},
		Filter: face.FilterOptions{MinSize: 30, MinConfidence: 0.5},
	}
}

func TestRun_FiltersAndClusters(t *testing.T) {
	a, b, c := testPNG(t, 100, 100), testPNG(t, 120, 100), testPNG(t, 140, 100)
	fd := newFakeDetector()
	fd.results[string(a)] = []face.Detection{det(0, face.BBox{0, 0, 50, 50}, 0.9, 1, 0)}
	fd.results[string(b)] = []face.Detection{det(0, face.BBox{0, 0, 10, 10}, 0.9, 1, 0)}
	fd.results[string(c)] = []face.Detection{det(0, face.BBox{10, 10, 70, 70}, 0.8, 0.9, 0.1)}

	store := imagestore.NewMemoryStore()
	p, err := New(Config{Detector: fd, Store: store})
	require.NoError(t, err)

	resp := p.Run(context.Background(), Request{
		TaskID: "t1",
		Images: []Image{
			{Name: "a.png", Data: a},
			{Name: "b.png", Data: b},
			{Name: "c.png", Data: c},
		},
		Options: dbscanOptions(),
	})
	require.True(t, resp.Success, resp.Error)
	require.NoError(t, resp.Err())

	id0, id2 := FaceID("t1", 0, 0), FaceID("t1", 2, 0)
	assert.Equal(t, 2, resp.TotalFaces)
	assert.Equal(t, 1, resp.UniquePersons)
	assert.Equal(t, map[string][]string{"person_0": {id0, id2}}, resp.Clusters)
	assert.Len(t, resp.Embeddings, 2)
	assert.Len(t, resp.FacesMetadata, 2)
	assert.Empty(t, resp.FailedImages)
	assert.Equal(t, 3, fd.calls)

	meta := resp.FacesMetadata[id2]
	assert.Equal(t, "img2", meta.ImageID)
	assert.Equal(t, "c.png", meta.ImageName)
	assert.Equal(t, face.BBox{10, 10, 70, 70}, meta.BBox)
	assert.InDelta(t, 0.8, meta.Confidence, 1e-9)
}

func TestRun_StoredKeysMatchIdentifiers(t *testing.T) {
	a := testPNG(t, 100, 80)
	fd := newFakeDetector()
	fd.results[string(a)] = []face.Detection{
		det(0, face.BBox{5, 5, 45, 45}, 0.9, 1, 0),
		det(1, face.BBox{50, 10, 95, 70}, 0.9, 0, 1),
	}

	store := imagestore.NewMemoryStore()
	p, err := New(Config{Detector: fd, Store: store})
	require.NoError(t, err)

	resp := p.Run(context.Background(), Request{
		TaskID:  "task",
		Images:  []Image{{Name: "group photo.png", Data: a}},
		Options: dbscanOptions(),
	})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 2, resp.UniquePersons)

	for id, meta := range resp.FacesMetadata {
		assert.Equal(t, imagestore.OriginalKey("task", 0, "group photo.png"), meta.OriginalImage)
		assert.Equal(t, imagestore.AnnotatedKey("task", id), meta.BoxedImage)

		rc, err := store.Open(context.Background(), meta.BoxedImage)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		_, err = imagestore.Decode(data)
		assert.NoError(t, err)
	}

	keys, err := store.List(context.Background(), "task")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestRun_NoFacesSkipsClustering(t *testing.T) {
	a := testPNG(t, 50, 50)
	fd := newFakeDetector()
	fd.results[string(a)] = []face.Detection{det(0, face.BBox{0, 0, 40, 40}, 0.2, 1, 0)}

	called := false
	p, err := New(Config{
		Detector: fd,
		NewClusterer: func(cluster.Params) (Clusterer, error) {
			called = true
			return nil, errors.New("unexpected")
		},
	})
	require.NoError(t, err)

	resp := p.Run(context.Background(), Request{
		Images:  []Image{{Name: "a.png", Data: a}},
		Options: dbscanOptions(),
	})
	assert.False(t, resp.Success)
	assert.ErrorIs(t, resp.Err(), ErrNoFaces)
	assert.Equal(t, "no faces found", resp.Error)
	assert.NotEmpty(t, resp.TaskID)
	assert.False(t, called)
	assert.Zero(t, resp.TotalFaces)
}

func TestRun_EmptyRequest(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	resp := p.Run(context.Background(), Request{TaskID: "empty"})
	assert.False(t, resp.Success)
	assert.ErrorIs(t, resp.Err(), ErrNoFaces)
	assert.Equal(t, "empty", resp.TaskID)
}

func TestRun_DetectorFailureIsNotFatal(t *testing.T) {
	a, b := testPNG(t, 60, 60), testPNG(t, 70, 60)
	fd := newFakeDetector()
	fd.results[string(a)] = []face.Detection{det(0, face.BBox{0, 0, 40, 40}, 0.9, 1, 0)}
	fd.fail[string(b)] = errors.New("connection refused")

	p, err := New(Config{Detector: fd})
	require.NoError(t, err)

	resp := p.Run(context.Background(), Request{
		TaskID:  "t",
		Images:  []Image{{Name: "a.png", Data: a}, {ID: "second", Name: "b.png", Data: b}},
		Options: dbscanOptions(),
	})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 1, resp.TotalFaces)
	require.Len(t, resp.FailedImages, 1)
	assert.Equal(t, "second", resp.FailedImages[0].ImageID)
	assert.Equal(t, "b.png", resp.FailedImages[0].Name)
	assert.Contains(t, resp.FailedImages[0].Error, "connection refused")

	// Without a store nothing is persisted.
	meta := resp.FacesMetadata[FaceID("t", 0, 0)]
	assert.Empty(t, meta.OriginalImage)
	assert.Empty(t, meta.BoxedImage)
}

func TestRun_DimensionMismatchIsFatal(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	resp := p.Run(context.Background(), Request{
		Images: []Image{
			{Name: "a", Detections: []face.Detection{det(0, face.BBox{0, 0, 50, 50}, 0.9, 1, 0)}},
			{Name: "b", Detections: []face.Detection{det(0, face.BBox{0, 0, 50, 50}, 0.9, 1, 0, 0)}},
		},
		Options: dbscanOptions(),
	})
	assert.False(t, resp.Success)
	assert.ErrorIs(t, resp.Err(), cluster.ErrDimensionMismatch)
	assert.Nil(t, resp.Clusters)
}

func TestRun_InvalidParams(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	opts := dbscanOptions()
	opts.Clustering.Eps = 0
	resp := p.Run(context.Background(), Request{
		Images:  []Image{{Name: "a", Detections: []face.Detection{det(0, face.BBox{0, 0, 50, 50}, 0.9, 1, 0)}}},
		Options: opts,
	})
	assert.False(t, resp.Success)
	assert.ErrorIs(t, resp.Err(), cluster.ErrConfiguration)
}

func TestRun_PrecomputedDetections(t *testing.T) {
	fd := newFakeDetector()
	p, err := New(Config{Detector: fd, Store: imagestore.NewMemoryStore()})
	require.NoError(t, err)

	resp := p.Run(context.Background(), Request{
		TaskID: "pre",
		Images: []Image{
			{ID: "x", Name: "x.jpg", Detections: []face.Detection{
				det(0, face.BBox{0, 0, 50, 50}, 0.9, 1, 0),
				det(1, face.BBox{60, 0, 110, 50}, 0.9, -1, 0),
			}},
		},
		Options: dbscanOptions(),
	})
	require.True(t, resp.Success, resp.Error)
	assert.Zero(t, fd.calls)
	assert.Equal(t, 2, resp.UniquePersons)
	assert.Equal(t, []string{"pre_img0_face1"}, resp.Clusters["person_1"])
	assert.Empty(t, resp.FacesMetadata["pre_img0_face0"].BoxedImage)
}

func TestRun_SameNamedImagesKeepSeparateOriginals(t *testing.T) {
	a, b, c := testPNG(t, 100, 100), testPNG(t, 120, 100), testPNG(t, 140, 100)
	fd := newFakeDetector()
	fd.results[string(a)] = []face.Detection{det(0, face.BBox{0, 0, 50, 50}, 0.9, 1, 0)}
	fd.results[string(b)] = []face.Detection{det(0, face.BBox{0, 0, 50, 50}, 0.9, 0, 1)}
	fd.results[string(c)] = []face.Detection{det(0, face.BBox{0, 0, 50, 50}, 0.9, -1, 0)}

	store := imagestore.NewMemoryStore()
	p, err := New(Config{Detector: fd, Store: store})
	require.NoError(t, err)

	resp := p.Run(context.Background(), Request{
		TaskID: "dup",
		Images: []Image{
			{Name: "IMG_0001.JPG", Data: a},
			{Name: "IMG_0001.JPG", Data: b},
			{Name: "IMG 0001.JPG", Data: c},
		},
		Options: dbscanOptions(),
	})
	require.True(t, resp.Success, resp.Error)

	seen := map[string]bool{}
	for i, data := range [][]byte{a, b, c} {
		key := resp.FacesMetadata[FaceID("dup", i, 0)].OriginalImage
		require.NotEmpty(t, key)
		assert.False(t, seen[key], "original key %s reused", key)
		seen[key] = true

		rc, err := store.Open(context.Background(), key)
		require.NoError(t, err)
		stored, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, data, stored, "image %d", i)
	}
}

func TestRun_TaskIDInUse(t *testing.T) {
	a := testPNG(t, 100, 100)
	fd := newFakeDetector()
	fd.results[string(a)] = []face.Detection{det(0, face.BBox{0, 0, 50, 50}, 0.9, 1, 0)}

	store := imagestore.NewMemoryStore()
	p, err := New(Config{Detector: fd, Store: store})
	require.NoError(t, err)
	req := Request{TaskID: "again", Images: []Image{{Name: "a.png", Data: a}}, Options: dbscanOptions()}

	resp := p.Run(context.Background(), req)
	require.True(t, resp.Success, resp.Error)

	// Files of the first run are stored under the id.
	resp = p.Run(context.Background(), req)
	assert.ErrorIs(t, resp.Err(), ErrTaskIDInUse)

	require.NoError(t, store.DeletePrefix(context.Background(), "again"))
	resp = p.Run(context.Background(), req)
	assert.True(t, resp.Success, resp.Error)
}

func TestRun_TaskIDReservedWhileRunning(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	req := Request{
		TaskID:  "busy",
		Images:  []Image{{Name: "x.jpg", Detections: []face.Detection{det(0, face.BBox{0, 0, 50, 50}, 0.9, 1, 0)}}},
		Options: dbscanOptions(),
	}

	require.NoError(t, p.reserve(context.Background(), "busy"))
	resp := p.Run(context.Background(), req)
	assert.ErrorIs(t, resp.Err(), ErrTaskIDInUse)

	p.release("busy")
	resp = p.Run(context.Background(), req)
	assert.True(t, resp.Success, resp.Error)

	// Without a store the id is free again once the run returns.
	resp = p.Run(context.Background(), req)
	assert.True(t, resp.Success, resp.Error)
}

func TestRun_EmptyEmbeddingFails(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	resp := p.Run(context.Background(), Request{
		TaskID: "noemb",
		Images: []Image{{Name: "x.jpg", Detections: []face.Detection{
			det(0, face.BBox{0, 0, 50, 50}, 0.9, 1, 0),
			det(1, face.BBox{60, 0, 110, 50}, 0.9),
		}}},
		Options: dbscanOptions(),
	})
	assert.False(t, resp.Success)
	assert.ErrorIs(t, resp.Err(), face.ErrEmptyEmbedding)
	assert.Contains(t, resp.Error, "noemb_img0_face1")
}

func TestRun_RequestValidation(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	resp := p.Run(context.Background(), Request{TaskID: "../escape"})
	assert.ErrorIs(t, resp.Err(), ErrInvalidTaskID)

	resp = p.Run(context.Background(), Request{Images: []Image{{ID: "a"}, {ID: "a"}}})
	assert.ErrorIs(t, resp.Err(), ErrDuplicateImageID)
}

func TestRun_Cancelled(t *testing.T) {
	a := testPNG(t, 60, 60)
	p, err := New(Config{Detector: newFakeDetector(), RateLimit: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := p.Run(ctx, Request{Images: []Image{{Name: "a", Data: a}}})
	assert.False(t, resp.Success)
	assert.ErrorIs(t, resp.Err(), context.Canceled)
}

func TestRun_Progress(t *testing.T) {
	a, b := testPNG(t, 60, 60), testPNG(t, 70, 60)
	fd := newFakeDetector()
	fd.results[string(a)] = []face.Detection{det(0, face.BBox{0, 0, 40, 40}, 0.9, 1, 0)}
	fd.results[string(b)] = []face.Detection{det(0, face.BBox{0, 0, 40, 40}, 0.9, 0, 1)}

	p, err := New(Config{Detector: fd, Store: imagestore.NewMemoryStore(), Concurrency: 1})
	require.NoError(t, err)

	type update struct {
		stage       Stage
		done, total int
	}
	var updates []update
	opts := dbscanOptions()
	opts.Progress = func(stage Stage, done, total int) {
		updates = append(updates, update{stage, done, total})
	}

	resp := p.Run(context.Background(), Request{
		Images:  []Image{{Name: "a.png", Data: a}, {Name: "b.png", Data: b}},
		Options: opts,
	})
	require.True(t, resp.Success, resp.Error)

	assert.Equal(t, []update{
		{StageDetect, 1, 2},
		{StageDetect, 2, 2},
		{StageCluster, 0, 1},
		{StageCluster, 1, 1},
		{StageAnnotate, 1, 2},
		{StageAnnotate, 2, 2},
	}, updates)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Concurrency: -1})
	assert.Error(t, err)

	_, err = New(Config{RateLimit: -0.5})
	assert.Error(t, err)
}

func TestResponse_Err(t *testing.T) {
	resp := Failed("t", ErrNoFaces)
	assert.Equal(t, "no faces found", resp.Error)
	assert.ErrorIs(t, resp.Err(), ErrNoFaces)

	var de *DetectorError
	err := error(&DetectorError{ImageID: "img0", Err: io.ErrUnexpectedEOF})
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "img0")
}
