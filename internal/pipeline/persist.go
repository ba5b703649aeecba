package pipeline

import (
	"context"
	"image"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-cluster/internal/face"
	"github.com/kozaktomas/face-cluster/internal/imagestore"
)

// persist stores every source image that produced a record together with one
// annotated copy per face, and returns the per-face metadata of the response.
// Storage failures are logged and leave the affected path empty.
func (p *Pipeline) persist(ctx context.Context, r *run, records []face.Record) map[string]FaceMetadata {
	metadata := make(map[string]FaceMetadata, len(records))
	byImage := make(map[string][]face.Record)
	for _, rec := range records {
		metadata[rec.ID] = FaceMetadata{
			ImageID:    rec.Metadata.ImageID,
			ImageName:  rec.Metadata.ImageName,
			FaceIndex:  rec.Metadata.FaceIndex,
			BBox:       rec.Metadata.BBox,
			Confidence: rec.Metadata.Confidence,
		}
		byImage[rec.Metadata.ImageID] = append(byImage[rec.Metadata.ImageID], rec)
	}
	if p.store == nil {
		return metadata
	}

	var targets []int
	for i, img := range r.images {
		if len(img.Data) > 0 && len(byImage[img.ID]) > 0 {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		return metadata
	}

	var mu sync.Mutex
	done := 0
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, index := range targets {
		g.Go(func() error {
			paths := p.persistImage(ctx, r, index, byImage[r.images[index].ID])

			mu.Lock()
			for id, fm := range paths {
				m := metadata[id]
				m.OriginalImage = fm.OriginalImage
				m.BoxedImage = fm.BoxedImage
				metadata[id] = m
			}
			done++
			n := done
			mu.Unlock()

			r.report(StageAnnotate, n, len(targets))
			return nil
		})
	}
	_ = g.Wait()
	return metadata
}

// persistImage writes one original and its annotated faces. The returned
// metadata only carries the paths that were written.
func (p *Pipeline) persistImage(ctx context.Context, r *run, index int, records []face.Record) map[string]FaceMetadata {
	img := r.images[index]
	paths := make(map[string]FaceMetadata, len(records))
	logger := r.logger.With("image", img.Name)

	originalKey := imagestore.OriginalKey(r.taskID, index, img.Name)
	if err := p.store.Put(ctx, originalKey, img.Data); err != nil {
		logger.Warn("failed to store original image", "error", err)
		originalKey = ""
	}

	decoded, err := imagestore.Decode(img.Data)
	if err != nil {
		logger.Warn("failed to decode image for annotation", "error", err)
	}

	for _, rec := range records {
		fm := FaceMetadata{OriginalImage: originalKey}
		if decoded != nil {
			fm.BoxedImage = p.annotate(ctx, r, decoded, rec)
		}
		paths[rec.ID] = fm
	}
	return paths
}

func (p *Pipeline) annotate(ctx context.Context, r *run, img image.Image, rec face.Record) string {
	data, err := p.annotator.Annotate(img, rec.Metadata.BBox)
	if err != nil {
		r.logger.Warn("failed to annotate face", "face_id", rec.ID, "error", err)
		return ""
	}
	key := imagestore.AnnotatedKey(r.taskID, rec.ID)
	if err := p.store.Put(ctx, key, data); err != nil {
		r.logger.Warn("failed to store annotated face", "face_id", rec.ID, "error", err)
		return ""
	}
	return key
}
