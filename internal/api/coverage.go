package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"nearbygo/pkg/places"
)

// coverageTTL keeps map layers from hitting the store on every pan.
const coverageTTL = 15 * time.Second

// CoverageHandler serves the H3 coverage layer of the persisted cache.
type CoverageHandler struct {
	service *places.Service
	now     func() time.Time

	// API Cache (15s TTL), keyed by query
	mu         sync.RWMutex
	cachedKey  string
	cachedResp []byte
	lastUpdate time.Time
}

// NewCoverageHandler creates a new CoverageHandler.
func NewCoverageHandler(s *places.Service) *CoverageHandler {
	return &CoverageHandler{
		service: s,
		now:     time.Now,
	}
}

// ServeHTTP answers GET /api/places/coverage?min_lat=&max_lat=&min_lng=&max_lng=&res=
func (h *CoverageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var vals [4]float64
	for i, name := range []string{"min_lat", "max_lat", "min_lng", "max_lng"} {
		v, err := requiredFloat(q, name)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		vals[i] = v
	}
	res := -1
	if s := q.Get("res"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			badRequest(w, "invalid res")
			return
		}
		res = v
	}

	key := r.URL.RawQuery
	h.mu.RLock()
	if h.cachedKey == key && h.cachedResp != nil && h.now().Sub(h.lastUpdate) < coverageTTL {
		resp := h.cachedResp
		h.mu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(resp)
		return
	}
	h.mu.RUnlock()

	bound := orb.Bound{
		Min: orb.Point{vals[2], vals[0]},
		Max: orb.Point{vals[3], vals[1]},
	}
	cells, err := h.service.Coverage(r.Context(), bound, res)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := json.Marshal(cells)
	if err != nil {
		writeError(w, err)
		return
	}

	h.mu.Lock()
	h.cachedKey = key
	h.cachedResp = resp
	h.lastUpdate = h.now()
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}
