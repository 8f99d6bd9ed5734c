package places

import (
	"context"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/uber/h3-go/v4"

	"nearbygo/pkg/model"
)

const (
	// DefaultCoverageResolution yields cells of roughly 5 km².
	DefaultCoverageResolution = 7
	maxCoverageResolution     = 15
)

// Coverage groups the persisted record centers inside bound into H3 cells.
// Cells are ordered by index. A negative resolution uses the default.
func (s *Service) Coverage(ctx context.Context, bound orb.Bound, resolution int) ([]model.CoverageCell, error) {
	if resolution < 0 {
		resolution = DefaultCoverageResolution
	}
	if resolution > maxCoverageResolution {
		return nil, fmt.Errorf("%w: h3 resolution %d out of range 0-%d", ErrInvalidInput, resolution, maxCoverageResolution)
	}
	if bound.Min.Lat() > bound.Max.Lat() || bound.Min.Lon() > bound.Max.Lon() {
		return nil, fmt.Errorf("%w: empty bounds", ErrInvalidInput)
	}

	recs, err := s.store.ListPlaceCacheInBounds(ctx, bound)
	if err != nil {
		return nil, fmt.Errorf("failed to list place cache: %w", err)
	}

	byCell := make(map[h3.Cell]*model.CoverageCell)
	for i := range recs {
		r := &recs[i]
		cell, err := h3.LatLngToCell(h3.NewLatLng(r.Lat, r.Lng), resolution)
		if err != nil {
			s.logger.Debug("Skipping record outside h3 domain", "record", r.ID, "error", err)
			continue
		}
		cc, ok := byCell[cell]
		if !ok {
			cc, err = newCoverageCell(cell)
			if err != nil {
				return nil, err
			}
			byCell[cell] = cc
		}
		cc.Records++
		if r.RadiusM > cc.MaxRadiusM {
			cc.MaxRadiusM = r.RadiusM
		}
		if r.UpdatedAt.After(cc.NewestAt) {
			cc.NewestAt = r.UpdatedAt
		}
	}

	out := make([]model.CoverageCell, 0, len(byCell))
	for _, cc := range byCell {
		out = append(out, *cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cell < out[j].Cell })
	return out, nil
}

func newCoverageCell(cell h3.Cell) (*model.CoverageCell, error) {
	center, err := cell.LatLng()
	if err != nil {
		return nil, fmt.Errorf("h3 center of %s: %w", cell, err)
	}
	boundary, err := cell.Boundary()
	if err != nil {
		return nil, fmt.Errorf("h3 boundary of %s: %w", cell, err)
	}
	ring := make([][2]float64, 0, len(boundary)+1)
	for _, ll := range boundary {
		ring = append(ring, [2]float64{ll.Lng, ll.Lat})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return &model.CoverageCell{
		Cell:     cell.String(),
		Lat:      center.Lat,
		Lng:      center.Lng,
		Boundary: ring,
	}, nil
}
