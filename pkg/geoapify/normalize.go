package geoapify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"nearbygo/pkg/geo"
	"nearbygo/pkg/model"
	"nearbygo/pkg/upstream"
)

// placeNamespace scopes generated IDs for features without a place_id.
var placeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://api.geoapify.com/v2/places"))

const wikimediaFileURL = "https://commons.wikimedia.org/wiki/"

// NormalizeCollection decodes a Places API FeatureCollection. Features that
// cannot be placed on the map are skipped; a missing distance is computed from
// center.
func NormalizeCollection(body []byte, center geo.Point) (*upstream.Result, error) {
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	places := make([]model.Place, 0, len(fc.Features))
	for _, f := range fc.Features {
		p, err := Normalize(f, &center)
		if err != nil {
			slog.Debug("Skipping place feature", "id", f.ID, "error", err)
			continue
		}
		places = append(places, p)
	}

	return &upstream.Result{Places: places, Total: len(places), Raw: raw}, nil
}

// Normalize maps one feature to a Place. Only the coordinates are required;
// missing optional fields become zero values. center may be nil.
func Normalize(f *geojson.Feature, center *geo.Point) (model.Place, error) {
	if f == nil {
		return model.Place{}, fmt.Errorf("nil feature")
	}
	props := f.Properties
	if props == nil {
		props = geojson.Properties{}
	}
	ds := nested(props, "datasource", "raw")

	lat, lng, err := coordinates(f, props)
	if err != nil {
		return model.Place{}, err
	}

	p := model.Place{
		Name:         str(props, "name"),
		Address:      address(props),
		Categories:   stringList(props["categories"]),
		Lat:          lat,
		Lng:          lng,
		Photos:       photos(props, ds),
		Website:      firstNonEmpty(str(props, "website"), str(ds, "website")),
		Phone:        firstNonEmpty(str(nested(props, "contact"), "phone"), str(props, "phone"), str(ds, "phone")),
		OpeningHours: firstPresent(props["opening_hours"], ds["opening_hours"]),
		Raw:          map[string]any(props.Clone()),
	}
	if p.Categories == nil {
		p.Categories = []string{}
	}

	if r, ok := num(props["rating"]); ok {
		p.Rating = &r
	} else if r, ok := num(ds["stars"]); ok {
		p.Rating = &r
	}
	if n, ok := num(firstPresent(props["rating_count"], props["user_ratings_total"])); ok {
		p.RatingCount = int(n)
	}

	if d, ok := num(props["distance"]); ok {
		p.Distance = &d
	} else if center != nil {
		d := geo.Distance(*center, geo.Point{Lat: lat, Lon: lng})
		p.Distance = &d
	}

	p.ID = placeID(f, props, p.Name, lat, lng)
	return p, nil
}

func coordinates(f *geojson.Feature, props geojson.Properties) (lat, lng float64, err error) {
	switch g := f.Geometry.(type) {
	case orb.Point:
		lng, lat = g.Lon(), g.Lat()
	case nil:
		var okLat, okLon bool
		lat, okLat = num(props["lat"])
		lng, okLon = num(props["lon"])
		if !okLat || !okLon {
			return 0, 0, fmt.Errorf("feature has no coordinates")
		}
	default:
		c := g.Bound().Center()
		lng, lat = c.Lon(), c.Lat()
	}
	if err := geo.ValidateCoordinates(lat, lng); err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}

func placeID(f *geojson.Feature, props geojson.Properties, name string, lat, lng float64) string {
	if id := str(props, "place_id"); id != "" {
		return id
	}
	switch id := f.ID.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return uuid.NewSHA1(placeNamespace, []byte(fmt.Sprintf("%s|%.6f|%.6f", name, lat, lng))).String()
}

func address(props geojson.Properties) string {
	if s := str(props, "formatted"); s != "" {
		return s
	}
	var parts []string
	for _, k := range []string{"address_line1", "address_line2"} {
		if s := str(props, k); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func photos(props, ds map[string]any) []string {
	out := []string{}
	seen := make(map[string]bool)
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}

	for _, u := range stringList(props["photos"]) {
		add(u)
	}
	add(str(props, "image"))
	add(str(ds, "image"))
	if file := str(ds, "wikimedia_commons"); file != "" {
		if strings.HasPrefix(file, "http") {
			add(file)
		} else {
			add(wikimediaFileURL + strings.ReplaceAll(file, " ", "_"))
		}
	}
	return out
}

// --- tolerant property access ---

func nested(m map[string]any, path ...string) map[string]any {
	cur := m
	for _, k := range path {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// num reads a finite number. NaN and infinities cannot be stored as JSON.
func num(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return list
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	default:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPresent(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
