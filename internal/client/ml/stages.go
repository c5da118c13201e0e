// Package ml drives the on-device indexing pipeline: per-file face and
// object detection through pluggable strategy implementations, versioned
// incremental recomputation, and clustering of the results into People and
// Things.
package ml

import (
	"context"

	"github.com/avelt/photovault/internal/client/models"
)

// Image is a decoded bitmap handed to the strategies, together with where it
// came from. Coordinates produced by the strategies are normalized against
// Width and Height.
type Image struct {
	Data   []byte
	Width  int
	Height int
	Source models.ImageSource
}

// Outcome is what a pipeline stage reports about its work: whether it could
// reuse the previous result or had to recompute. Each stage's gate consumes
// the outcome of the stage before it.
type Outcome int

const (
	OutcomeReused Outcome = iota
	OutcomeRecomputed
)

// FaceDetector finds faces on a bitmap.
type FaceDetector interface {
	Method() models.MethodVersion
	DetectFaces(ctx context.Context, img *Image) ([]models.FaceDetection, error)
}

// FaceCropper extracts a face thumbnail artifact for display.
type FaceCropper interface {
	Method() models.MethodVersion
	CropFace(ctx context.Context, img *Image, det models.FaceDetection) ([]byte, error)
}

// FaceAligner computes the similarity transform onto the embedder's
// canonical frame.
type FaceAligner interface {
	Method() models.MethodVersion
	AlignFace(ctx context.Context, img *Image, det models.FaceDetection) (models.FaceAlignment, error)
}

// FaceEmbedder embeds all of a file's faces in one batched call.
type FaceEmbedder interface {
	Method() models.MethodVersion
	EmbedFaces(ctx context.Context, img *Image, aligns []models.FaceAlignment) ([][]float32, error)
}

// ObjectDetector finds objects on a bitmap.
type ObjectDetector interface {
	Method() models.MethodVersion
	DetectObjects(ctx context.Context, img *Image) ([]models.DetectedObject, error)
}

// SceneDetector tags the overall scene; its hits are merged into the same
// objects list as the object detector's.
type SceneDetector interface {
	Method() models.MethodVersion
	DetectScenes(ctx context.Context, img *Image) ([]models.DetectedObject, error)
}
