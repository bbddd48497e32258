package database

// Face filter constants - minimum size for detections to enter matching
const (
	// MinFaceWidthPx is the absolute minimum face width in pixels
	MinFaceWidthPx = 35

	// MinFaceWidthRel is the minimum face width relative to photo width (1%)
	MinFaceWidthRel = 0.01

	// MinDetScore is the minimum detector confidence for a detection
	// to be eligible for matching and clustering
	MinDetScore = 0.4
)

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWEfConstruction is used during index building.
	// Higher values improve index quality but slow down construction.
	HNSWEfConstruction = 200

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to ensure we have enough after distance filtering.
	HNSWSearchMultiplier = 3
)

// Eligible reports whether a detection passes the quality gates for
// matching and clustering. Low-score and tiny faces stay stored but are
// never matched or clustered.
func Eligible(d *StoredDetection) bool {
	if d.DetScore < MinDetScore {
		return false
	}

	width := faceWidthPx(d)
	if width > 0 && width < MinFaceWidthPx {
		return false
	}
	if d.PhotoWidth > 0 && width > 0 {
		if width/float64(d.PhotoWidth) < MinFaceWidthRel {
			return false
		}
	}
	return true
}

func faceWidthPx(d *StoredDetection) float64 {
	if len(d.BBox) != 4 {
		return 0
	}
	return d.BBox[2] - d.BBox[0]
}
