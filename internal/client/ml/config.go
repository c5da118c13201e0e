package ml

import "github.com/avelt/photovault/internal/client/models"

// Config tunes the indexing pipeline. MLVersion is the target version a
// file's record must reach to count as in sync; bump it to force a full
// reindex.
type Config struct {
	MLVersion int

	// BatchSize caps how many out-of-sync files one background pass takes on.
	BatchSize int

	// MaxErrorCount excludes files that kept failing from future batches.
	MaxErrorCount int

	// ImageSource selects which bitmap stages run against.
	ImageSource models.ImageSource

	// MinFaceCount gates face clustering; below it clusters are too noisy
	// to be useful.
	MinFaceCount int

	// ClusterChance is the probability of running clustering after a full
	// batch, so People/Things stay reasonably fresh without clustering on
	// every incremental pass.
	ClusterChance float64

	// FaceSimilarityThreshold is the minimum cosine similarity for a face to
	// join an existing cluster.
	FaceSimilarityThreshold float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MLVersion:               1,
		BatchSize:               200,
		MaxErrorCount:           5,
		ImageSource:             models.ImageSourceThumbnail,
		MinFaceCount:            50,
		ClusterChance:           0.2,
		FaceSimilarityThreshold: 0.76,
	}
}
