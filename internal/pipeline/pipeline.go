// Package pipeline drives one clustering run end to end: face detection,
// filtering, clustering, result assembly and persistence of annotated images.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kozaktomas/face-cluster/internal/cluster"
	"github.com/kozaktomas/face-cluster/internal/detector"
	"github.com/kozaktomas/face-cluster/internal/face"
	"github.com/kozaktomas/face-cluster/internal/imagestore"
	"github.com/kozaktomas/face-cluster/internal/logging"
)

const defaultConcurrency = 4

// Detector finds faces in an encoded image.
type Detector interface {
	Detect(ctx context.Context, imageData []byte) (*detector.Result, error)
}

// Clusterer labels embedding vectors. *cluster.Engine implements it.
type Clusterer interface {
	Cluster(vectors [][]float32) ([]int, error)
}

// Config holds the collaborators of a Pipeline.
type Config struct {
	// Detector is required for images without precomputed detections.
	Detector Detector
	// Store receives originals and annotated images. Nil disables persistence.
	Store     imagestore.Store
	Annotator imagestore.Annotator
	Logger    *slog.Logger
	// Concurrency bounds parallel detector calls and image writes per run.
	Concurrency int
	// RateLimit caps detector requests per second across all runs. Zero disables it.
	RateLimit float64
	// NewClusterer builds the clusterer of a run. Defaults to cluster.NewEngine.
	NewClusterer func(cluster.Params) (Clusterer, error)
}

// Pipeline runs clustering requests. It is safe for concurrent use; every run
// owns its records and result.
type Pipeline struct {
	detector     Detector
	store        imagestore.Store
	annotator    imagestore.Annotator
	logger       *slog.Logger
	concurrency  int
	limiter      *rate.Limiter
	newClusterer func(cluster.Params) (Clusterer, error)

	mu     sync.Mutex
	active map[string]struct{}
}

// New validates cfg and returns a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency must not be negative, got %d", cfg.Concurrency)
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit must not be negative, got %v", cfg.RateLimit)
	}

	p := &Pipeline{
		detector:     cfg.Detector,
		store:        cfg.Store,
		annotator:    cfg.Annotator,
		logger:       cfg.Logger,
		concurrency:  cfg.Concurrency,
		newClusterer: cfg.NewClusterer,
		active:       make(map[string]struct{}),
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	if p.concurrency == 0 {
		p.concurrency = defaultConcurrency
	}
	if p.annotator.LineWidth == 0 {
		p.annotator = imagestore.DefaultAnnotator()
	}
	if cfg.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), p.concurrency)
	}
	if p.newClusterer == nil {
		p.newClusterer = func(params cluster.Params) (Clusterer, error) {
			return cluster.NewEngine(params)
		}
	}
	return p, nil
}

// run carries the state of one Run call.
type run struct {
	taskID   string
	images   []Image
	opts     Options
	logger   *slog.Logger
	progress sync.Mutex
}

func (r *run) report(stage Stage, done, total int) {
	if r.opts.Progress == nil {
		return
	}
	r.progress.Lock()
	defer r.progress.Unlock()
	r.opts.Progress(stage, done, total)
}

// detected is the detector output of one image.
type detected struct {
	detections []face.Detection
	model      string
	err        error
}

// Run processes one request. It never returns nil; failures are reported
// through Response.Success, Response.Error and Response.Err.
func (p *Pipeline) Run(ctx context.Context, req Request) *Response {
	start := time.Now()

	taskID := req.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	if imagestore.SanitizeName(taskID) != taskID {
		return Failed(taskID, fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID))
	}
	if err := p.reserve(ctx, taskID); err != nil {
		return Failed(taskID, err)
	}
	defer p.release(taskID)

	r := &run{
		taskID: taskID,
		images: slices.Clone(req.Images),
		opts:   req.Options,
		logger: p.logger.With("task_id", taskID),
	}
	seen := make(map[string]bool, len(r.images))
	for i := range r.images {
		if r.images[i].ID == "" {
			r.images[i].ID = fmt.Sprintf("img%d", i)
		}
		if seen[r.images[i].ID] {
			return Failed(taskID, fmt.Errorf("%w: %s", ErrDuplicateImageID, r.images[i].ID))
		}
		seen[r.images[i].ID] = true
	}

	results, err := p.detectAll(ctx, r)
	if err != nil {
		return Failed(taskID, err)
	}

	store, failed, err := p.buildRecords(r, results)
	if err != nil {
		r.logger.Error("building face records failed", "error", err)
		return Failed(taskID, err)
	}
	if store.Len() == 0 {
		r.logger.Info("no faces found", "images", len(r.images), "failed", len(failed))
		resp := Failed(taskID, ErrNoFaces)
		resp.FailedImages = failed
		return resp
	}

	r.report(StageCluster, 0, 1)
	engine, err := p.newClusterer(r.opts.Clustering)
	if err != nil {
		return Failed(taskID, err)
	}
	labels, err := engine.Cluster(store.Embeddings())
	if err != nil {
		r.logger.Error("clustering failed", "error", err)
		return Failed(taskID, err)
	}
	result, err := cluster.Assemble(store.Records(), labels)
	if err != nil {
		r.logger.Error("assembling result failed", "error", err)
		return Failed(taskID, err)
	}
	r.report(StageCluster, 1, 1)

	metadata := p.persist(ctx, r, store.Records())

	resp := &Response{
		Success:       true,
		TaskID:        taskID,
		Clusters:      result.Clusters,
		Embeddings:    result.Embeddings,
		FacesMetadata: metadata,
		TotalFaces:    store.Len(),
		UniquePersons: result.UniquePersons(),
		FailedImages:  failed,
	}
	r.logger.Info("run complete",
		"images", len(r.images),
		"faces", resp.TotalFaces,
		"clusters", resp.UniquePersons,
		"failed", len(failed),
		"duration", time.Since(start))
	return resp
}

// detectAll collects detections for every image. Results are slotted by image
// index so the record order does not depend on completion order. Only context
// cancellation is returned as an error; detector failures are kept per image.
func (p *Pipeline) detectAll(ctx context.Context, r *run) ([]detected, error) {
	results := make([]detected, len(r.images))
	total := len(r.images)
	var done int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range r.images {
		img := &r.images[i]
		g.Go(func() error {
			res, err := p.detect(gctx, img)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				results[i] = detected{err: &DetectorError{ImageID: img.ID, Err: err}}
			} else {
				results[i] = res
			}

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			r.report(StageDetect, n, total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("detection interrupted: %w", err)
	}
	return results, nil
}

func (p *Pipeline) detect(ctx context.Context, img *Image) (detected, error) {
	if img.Detections != nil {
		return detected{detections: img.Detections}, nil
	}
	if p.detector == nil {
		return detected{}, errors.New("no detector configured")
	}
	if len(img.Data) == 0 {
		return detected{}, errors.New("empty image")
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return detected{}, err
		}
	}
	res, err := p.detector.Detect(ctx, img.Data)
	if err != nil {
		return detected{}, err
	}
	return detected{detections: res.Detections, model: res.Model}, nil
}

// buildRecords filters detections and mints a run-unique identifier per face.
func (p *Pipeline) buildRecords(r *run, results []detected) (*face.Store, []FailedImage, error) {
	store := face.NewStore(len(results))
	var failed []FailedImage

	for i, res := range results {
		img := r.images[i]
		if res.err != nil {
			r.logger.Warn("skipping image", "image", img.Name, "error", res.err)
			failed = append(failed, FailedImage{ImageID: img.ID, Name: img.Name, Error: res.err.Error()})
			continue
		}

		kept := face.Filter(res.detections, r.opts.Filter)
		r.logger.Debug("faces detected", "image", img.Name, "detected", len(res.detections), "kept", len(kept))

		for n, d := range kept {
			meta := face.Metadata{
				ImageID:    img.ID,
				ImageName:  img.Name,
				FaceIndex:  d.Index,
				BBox:       d.BBox,
				Confidence: d.Confidence,
			}
			if res.model != "" {
				meta.Extra = map[string]string{"model": res.model}
			}
			rec := face.Record{
				ID:        FaceID(r.taskID, i, n),
				Embedding: d.Embedding,
				Metadata:  meta,
			}
			if err := store.Add(rec); err != nil {
				return nil, nil, fmt.Errorf("adding face %s: %w", rec.ID, err)
			}
		}
	}
	return store, failed, nil
}

// reserve claims taskID for one run. An id is taken while another run uses it
// or once the store holds files under it.
func (p *Pipeline) reserve(ctx context.Context, taskID string) error {
	p.mu.Lock()
	if _, busy := p.active[taskID]; busy {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s is running", ErrTaskIDInUse, taskID)
	}
	p.active[taskID] = struct{}{}
	p.mu.Unlock()

	if p.store == nil {
		return nil
	}
	keys, err := p.store.List(ctx, taskID)
	switch {
	case err != nil:
		p.release(taskID)
		return fmt.Errorf("checking stored files of task %s: %w", taskID, err)
	case len(keys) > 0:
		p.release(taskID)
		return fmt.Errorf("%w: %s has stored files", ErrTaskIDInUse, taskID)
	}
	return nil
}

func (p *Pipeline) release(taskID string) {
	p.mu.Lock()
	delete(p.active, taskID)
	p.mu.Unlock()
}

// FaceID returns the identifier of the n-th kept face of the image at index.
// Annotated images are stored under the same identifier.
func FaceID(taskID string, imageIndex, n int) string {
	return fmt.Sprintf("%s_img%d_face%d", taskID, imageIndex, n)
}
