package models

import "fmt"

// MethodVersion identifies one algorithm family plus its parameters. Two
// method versions are the same iff they compare equal structurally; a changed
// method invalidates only the pipeline stage it tags.
type MethodVersion struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// ImageSource records which bitmap the ML pipeline was run against. Changing
// the configured source invalidates cached stage results for a file.
type ImageSource string

const (
	ImageSourceOriginal  ImageSource = "original"
	ImageSourceThumbnail ImageSource = "thumbnail"
	ImageSourceLocalFile ImageSource = "localFile"
)

// Point is a normalized coordinate in [0,1] relative to image dimensions.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is a normalized rectangle relative to image dimensions.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FaceDetection is one detector hit: geometry plus confidence.
type FaceDetection struct {
	Box       Box     `json:"box"`
	Landmarks []Point `json:"landmarks,omitempty"`
	Score     float64 `json:"score"`
}

// FaceID derives the stable identifier for this detection within fileID.
// It depends only on the file id and the detection geometry, so re-running
// the same detector on the same image yields the same id and downstream
// stage results can be selectively reused.
func (d FaceDetection) FaceID(fileID int64) string {
	return fmt.Sprintf("%d_%.2f_%.2f_%.2f_%.2f",
		fileID, d.Box.X, d.Box.Y, d.Box.Width, d.Box.Height)
}

// FaceAlignment is the similarity transform mapping a detected face onto the
// embedder's canonical frame.
type FaceAlignment struct {
	Center   Point   `json:"center"`
	Size     float64 `json:"size"`
	Rotation float64 `json:"rotation"`
}

// Face is the per-face ML state accumulated across pipeline stages. Stage
// fields are nil until their stage has run.
type Face struct {
	ID        string         `json:"id"`
	FileID    int64          `json:"fileID"`
	Detection FaceDetection  `json:"detection"`
	CropKey   string         `json:"cropKey,omitempty"` // blob-cache key of the crop artifact
	Alignment *FaceAlignment `json:"alignment,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
	PersonID  *int           `json:"personID,omitempty"`
}

// ObjectDetection is one object/scene detector hit.
type ObjectDetection struct {
	Box   Box     `json:"box"`
	Score float64 `json:"score"`
}

// DetectedObject is one recognized object or scene tag on a file.
type DetectedObject struct {
	ID        string          `json:"id"`
	FileID    int64           `json:"fileID"`
	Detection ObjectDetection `json:"detection"`
	ClassName string          `json:"className"`
}

// MLFileData is the per-file ML index record. A file is in sync only when
// MLVersion equals the configured target; per-stage method tags allow
// independent invalidation without a full re-detection.
type MLFileData struct {
	FileID           int64  `json:"fileID"`
	MLVersion        int    `json:"mlVersion"`
	ErrorCount       int    `json:"errorCount"`
	LastErrorMessage string `json:"lastErrorMessage,omitempty"`

	Faces   []Face           `json:"faces,omitempty"`
	Objects []DetectedObject `json:"objects,omitempty"`

	FaceDetectionMethod   MethodVersion `json:"faceDetectionMethod"`
	FaceCropMethod        MethodVersion `json:"faceCropMethod"`
	FaceAlignmentMethod   MethodVersion `json:"faceAlignmentMethod"`
	FaceEmbeddingMethod   MethodVersion `json:"faceEmbeddingMethod"`
	ObjectDetectionMethod MethodVersion `json:"objectDetectionMethod"`
	SceneDetectionMethod  MethodVersion `json:"sceneDetectionMethod"`

	ImageSource ImageSource `json:"imageSource"`
	ImageWidth  int         `json:"imageWidth"`
	ImageHeight int         `json:"imageHeight"`
}

// FaceIDs returns the ordered face-id set; stage reuse gates compare these
// order-sensitively.
func (m *MLFileData) FaceIDs() []string {
	ids := make([]string, len(m.Faces))
	for i, f := range m.Faces {
		ids[i] = f.ID
	}
	return ids
}

// Person is a face cluster. Rebuilt wholesale on each clustering pass.
type Person struct {
	ID            int     `json:"id"`
	FileIDs       []int64 `json:"files"`
	DisplayFaceID string  `json:"displayFaceID,omitempty"`
}

// Thing is an object-class cluster. Rebuilt wholesale on each clustering pass.
type Thing struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	FileIDs []int64 `json:"files"`
}
