package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	DetectionCount int64     `json:"detection_count"`
	MaxDetectionID int64     `json:"max_detection_id"`
	BuildTime      time.Time `json:"build_time"`
	Version        int       `json:"version"` // For future compatibility
}

const hnswMetadataVersion = 1

// HNSWIndex wraps the HNSW graph for face embedding search.
type HNSWIndex struct {
	graph         *hnsw.Graph[int64]
	savedGraph    *hnsw.SavedGraph[int64]    // For persistence
	idToDetection map[int64]*StoredDetection // Maps HNSW node ID to detection
	mu            sync.RWMutex
	path          string // Path to save/load index
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToDetection: make(map[int64]*StoredDetection),
	}
}

// BuildFromDetections builds the index from a slice of detections.
func (h *HNSWIndex) BuildFromDetections(detections []StoredDetection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(detections) == 0 {
		h.graph = nil
		h.savedGraph = nil
		h.idToDetection = make(map[int64]*StoredDetection)
		return nil
	}

	// Create new graph with cosine distance.
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance

	h.idToDetection = make(map[int64]*StoredDetection, len(detections))

	// Add all detections to the graph.
	for i := range detections {
		det := &detections[i]
		if len(det.Embedding) == 0 {
			continue
		}

		g.Add(hnsw.MakeNode(det.ID, det.Embedding))
		h.idToDetection[det.ID] = det
	}

	h.graph = g
	return nil
}

// Search finds the k nearest neighbors to the query embedding.
// Returns detection IDs and their distances.
func (h *HNSWIndex) Search(query []float32, k int) ([]int64, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		return nil, nil, errors.New("index not initialized")
	}

	var neighbors []hnsw.Node[int64]
	if h.savedGraph != nil {
		neighbors = h.savedGraph.Search(query, k)
	} else {
		neighbors = h.graph.Search(query, k)
	}

	ids := make([]int64, len(neighbors))
	distances := make([]float64, len(neighbors))

	for i, n := range neighbors {
		ids[i] = n.Key
		// Compute actual cosine distance using the embedding from the node directly.
		// This avoids needing the idToDetection map for distance computation.
		if len(n.Value) > 0 {
			distances[i] = CosineDistance(query, n.Value)
		}
	}

	return ids, distances, nil
}

// GetDetection returns the detection for a given ID.
func (h *HNSWIndex) GetDetection(id int64) *StoredDetection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToDetection[id]
}

// Add adds a single detection to the index.
func (h *HNSWIndex) Add(det *StoredDetection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(det.Embedding) == 0 {
		return nil
	}

	if h.graph == nil {
		// Create new graph.
		h.graph = hnsw.NewGraph[int64]()
		h.graph.M = HNSWMaxNeighbors
		h.graph.Ml = 1.0 / float64(HNSWMaxNeighbors)
		h.graph.Distance = hnsw.CosineDistance
	}

	h.graph.Add(hnsw.MakeNode(det.ID, det.Embedding))
	h.idToDetection[det.ID] = det

	return nil
}

// UpdateDetectionMarker updates the cached marker UID of a detection in the
// idToDetection map by database ID.
// Returns true if the detection was found and updated, false if not found.
func (h *HNSWIndex) UpdateDetectionMarker(id int64, markerUID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	det, ok := h.idToDetection[id]
	if !ok {
		return false
	}
	det.MarkerUID = markerUID
	return true
}

// Delete removes a detection from the index (marks as deleted).
func (h *HNSWIndex) Delete(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.idToDetection, id)
	// Note: HNSW doesn't support true deletion, but removing from idToDetection
	// effectively removes it from search results since we filter by lookup.
}

// SetPath sets the path for saving/loading the index.
func (h *HNSWIndex) SetPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
}

// Save persists the index to disk.
func (h *HNSWIndex) Save() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.path == "" {
		return nil // No path set
	}

	if h.graph == nil {
		// Remove existing file if index is empty (best-effort cleanup).
		_ = os.Remove(h.path)
		return nil
	}

	// Write to file.
	f, err := os.Create(h.path)
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := h.graph.Export(f); err != nil {
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	return nil
}

// Load loads the index from disk.
func (h *HNSWIndex) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.path = path

	// Check if file exists.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // No index file, will build from detections
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	h.savedGraph = saved
	return nil
}

// Count returns the number of indexed detections.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToDetection)
}

// IsEmpty returns true if the index has no graph data loaded.
// Note: idToDetection is populated separately by RebuildFromDetections after loading.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil && h.savedGraph == nil
}

// RebuildFromDetections rebuilds the idToDetection map from detections.
// Called after loading index from disk.
func (h *HNSWIndex) RebuildFromDetections(detections []StoredDetection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.idToDetection = make(map[int64]*StoredDetection, len(detections))
	for i := range detections {
		h.idToDetection[detections[i].ID] = &detections[i]
	}
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	metaPath := path + ".meta"
	data, err := os.ReadFile(metaPath) //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return metadata, nil
}

// SaveDetectionMetadata saves detection metadata to a .dets file for fast loading at startup.
func SaveDetectionMetadata(path string, detections []StoredDetection) error {
	detsPath := path + ".dets"

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(detections); err != nil {
		return fmt.Errorf("failed to encode detections: %w", err)
	}

	if err := os.WriteFile(detsPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write detections file: %w", err)
	}

	return nil
}

// LoadDetectionMetadata loads detection metadata from a .dets file.
func LoadDetectionMetadata(path string) ([]StoredDetection, error) {
	detsPath := path + ".dets"

	data, err := os.ReadFile(detsPath) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read detections file: %w", err)
	}

	var detections []StoredDetection
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&detections); err != nil {
		return nil, fmt.Errorf("failed to decode detections: %w", err)
	}

	return detections, nil
}

// LoadWithDetectionMetadata loads both the HNSW graph and detection metadata from disk.
func (h *HNSWIndex) LoadWithDetectionMetadata(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.path = path

	// Load HNSW graph.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("HNSW index file not found: %s", path)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	// Load detection metadata.
	detections, err := LoadDetectionMetadata(path)
	if err != nil {
		return fmt.Errorf("failed to load detection metadata: %w", err)
	}

	h.savedGraph = saved
	h.idToDetection = make(map[int64]*StoredDetection, len(detections))
	for i := range detections {
		h.idToDetection[detections[i].ID] = &detections[i]
	}

	return nil
}

// exportGraph exports the HNSW graph to the given file path.
func (h *HNSWIndex) exportGraph(path string) error {
	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if h.savedGraph != nil {
		if err := h.savedGraph.Export(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to export HNSW graph from savedGraph: %w", err)
		}
	} else {
		if err := h.graph.Export(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to export HNSW graph: %w", err)
		}
	}
	_ = f.Close()
	fmt.Printf("Detection index: wrote graph to %s\n", path)
	return nil
}

// SaveWithDetectionMetadata persists the index and detection metadata to disk.
func (h *HNSWIndex) SaveWithDetectionMetadata(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		fmt.Printf("Detection index save: no graph loaded, removing files\n")
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".dets")
		return nil
	}

	if err := h.exportGraph(path); err != nil {
		return err
	}

	metadata.Version = hnswMetadataVersion
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metaPath := path + ".meta"
	if err := os.WriteFile(metaPath, metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	fmt.Printf("Detection index: wrote metadata to %s (%d bytes)\n", metaPath, len(metaData))

	detections := make([]StoredDetection, 0, len(h.idToDetection))
	for _, det := range h.idToDetection {
		detections = append(detections, *det)
	}
	if err := SaveDetectionMetadata(path, detections); err != nil {
		return fmt.Errorf("failed to save detection metadata: %w", err)
	}
	fmt.Printf("Detection index: wrote detections to %s.dets (%d detections)\n", path, len(detections))

	return nil
}
