package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/face-registry/internal/constants"
	"github.com/kozaktomas/face-registry/internal/database"
)

const statsCacheTTL = constants.StatsCacheTTLMinutes * time.Minute

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get() (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	detections database.DetectionReader
	persons    database.PersonReader
	identities database.IdentityReader
	proposals  database.ProposalReader
	cache      statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(
	detections database.DetectionReader,
	persons database.PersonReader,
	identities database.IdentityReader,
	proposals database.ProposalReader,
) *StatsHandler {
	return &StatsHandler{
		detections: detections,
		persons:    persons,
		identities: identities,
		proposals:  proposals,
	}
}

// InvalidateCache clears the cached stats so the next request fetches fresh data
func (h *StatsHandler) InvalidateCache() {
	h.cache.invalidate()
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	TotalDetections int            `json:"total_detections"`
	TotalPhotos     int            `json:"total_photos"`
	Identified      int            `json:"identified"`
	Unassigned      int            `json:"unassigned"`
	TotalPersons    int            `json:"total_persons"`
	Proposals       map[string]int `json:"proposals"`
}

// Get returns registry totals: detections, photos, identified faces,
// persons and proposals per status.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.get(); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	ctx := r.Context()

	totalDetections, err := h.detections.Count(ctx)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	totalPhotos, err := h.detections.CountPhotos(ctx)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	unassigned, err := h.detections.CountUnassigned(ctx)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	identified, err := h.identities.CountIdentities(ctx)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	totalPersons, err := h.persons.CountPersons(ctx)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	proposals, err := h.proposals.CountProposals(ctx)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	stats := &StatsResponse{
		TotalDetections: totalDetections,
		TotalPhotos:     totalPhotos,
		Identified:      identified,
		Unassigned:      unassigned,
		TotalPersons:    totalPersons,
		Proposals:       proposals,
	}

	h.cache.set(stats)
	respondJSON(w, http.StatusOK, stats)
}
