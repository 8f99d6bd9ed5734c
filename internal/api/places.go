package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nearbygo/pkg/places"
)

// PlacesHandler serves nearby lookups and cache administration.
type PlacesHandler struct {
	service *places.Service
}

// NewPlacesHandler creates a new PlacesHandler.
func NewPlacesHandler(s *places.Service) *PlacesHandler {
	return &PlacesHandler{service: s}
}

// NearbyResponse is the body of a successful lookup.
type NearbyResponse struct {
	*places.Result
	NoResult bool `json:"no_result"`
}

// HandleNearby answers GET /api/places/nearby?lat=&lng=&radius=&refresh=
func (h *PlacesHandler) HandleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lng, radius, err := parsePoint(q)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	refresh, _ := strconv.ParseBool(q.Get("refresh"))

	res, err := h.service.GetNearbyPlaces(r.Context(), lat, lng, radius, refresh)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, NearbyResponse{Result: res, NoResult: res.Empty()})
}

// HandleRefresh answers POST /api/places/refresh?lat=&lng=&radius=
func (h *PlacesHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	lat, lng, radius, err := parsePoint(r.URL.Query())
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	res, err := h.service.GetNearbyPlaces(r.Context(), lat, lng, radius, true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, NearbyResponse{Result: res, NoResult: res.Empty()})
}

// HandlePurge answers POST /api/places/purge?days=
func (h *PlacesHandler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	days := 0
	if s := r.URL.Query().Get("days"); s != "" {
		d, err := strconv.Atoi(s)
		if err != nil || d < 0 {
			badRequest(w, "days must be a non-negative integer")
			return
		}
		days = d
	}

	n, err := h.service.PurgeStaleCache(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"deleted": n})
}

// HandleUsage answers GET /api/places/usage?start=&end=
// Bounds are RFC3339 instants or YYYY-MM-DD UTC days; an end day is inclusive.
func (h *PlacesHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseBound(q.Get("start"), false)
	if err != nil {
		badRequest(w, "invalid start: "+err.Error())
		return
	}
	end, err := parseBound(q.Get("end"), true)
	if err != nil {
		badRequest(w, "invalid end: "+err.Error())
		return
	}

	stats, err := h.service.GetUsageStatistics(r.Context(), start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stats)
}

// HandleClearMemory answers DELETE /api/places/memory
func (h *PlacesHandler) HandleClearMemory(w http.ResponseWriter, r *http.Request) {
	n := h.service.MemoryLen()
	h.service.ClearMemory()
	writeJSON(w, map[string]int{"cleared": n})
}

func parsePoint(q url.Values) (lat, lng, radius float64, err error) {
	if lat, err = requiredFloat(q, "lat"); err != nil {
		return 0, 0, 0, err
	}
	if lng, err = requiredFloat(q, "lng"); err != nil {
		return 0, 0, 0, err
	}
	// An absent or unparsable radius is left at 0, which the service replaces
	// with the default.
	if s := q.Get("radius"); s != "" {
		if r, perr := strconv.ParseFloat(s, 64); perr == nil {
			radius = r
		}
	}
	return lat, lng, radius, nil
}

func requiredFloat(q url.Values, name string) (float64, error) {
	s := q.Get(name)
	if s == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

func parseBound(s string, end bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("want RFC3339 or YYYY-MM-DD, got %q", s)
	}
	if end {
		t = t.Add(24 * time.Hour)
	}
	return &t, nil
}
