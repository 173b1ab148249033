// Package geo turns user-supplied addresses into coordinates, finds the
// nearest store and classifies the distance into a delivery tier.
package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/golang/geo/s2"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/metrics"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0088

var (
	// ErrNotFound reports that the geocoder produced no match.
	ErrNotFound = errors.New("geo: address not found")
	// ErrNoStores reports an empty store set.
	ErrNoStores = errors.New("geo: no stores")
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// StoreLocation is a pickup point with its courier chat.
type StoreLocation struct {
	Address       string `yaml:"address"`
	Point         Point  `yaml:",inline"`
	CourierChatID int64  `yaml:"courier_chat_id"`
}

// Input carries either free text or an already shared location.
type Input struct {
	Text  string
	Point *Point
}

// Geocoder resolves free text to a point. It returns ErrNotFound when
// nothing matches.
type Geocoder interface {
	Geocode(ctx context.Context, text string) (Point, error)
}

// Resolver wraps a Geocoder with pass-through for shared locations.
type Resolver struct {
	geocoder Geocoder
	metrics  *metrics.Metrics
}

// NewResolver builds a Resolver. m may be nil.
func NewResolver(g Geocoder, m *metrics.Metrics) *Resolver {
	return &Resolver{geocoder: g, metrics: m}
}

// Locate returns the coordinates described by in.
func (r *Resolver) Locate(ctx context.Context, in Input) (Point, error) {
	if in.Point != nil {
		r.metrics.ObserveGeoLookup(metrics.OutcomeOK)
		return *in.Point, nil
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		r.metrics.ObserveGeoLookup(metrics.OutcomeNotFound)
		return Point{}, ErrNotFound
	}
	if r.geocoder == nil {
		return Point{}, fmt.Errorf("geo: geocoder not configured")
	}
	p, err := r.geocoder.Geocode(ctx, text)
	switch {
	case errors.Is(err, ErrNotFound):
		r.metrics.ObserveGeoLookup(metrics.OutcomeNotFound)
		logger.Info(ctx, "geo", "geo.lookup", slog.String("status", "not_found"))
		return Point{}, ErrNotFound
	case err != nil:
		r.metrics.ObserveGeoLookup(metrics.OutcomeFail)
		return Point{}, fmt.Errorf("geo: geocode: %w", err)
	}
	r.metrics.ObserveGeoLookup(metrics.OutcomeOK)
	return p, nil
}

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	la := s2.LatLngFromDegrees(a.Lat, a.Lon)
	lb := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return la.Distance(lb).Radians() * EarthRadiusKm
}

// Nearest returns the closest store and its distance in km rounded to
// three decimals. Equal distances resolve to the lowest address.
func Nearest(p Point, stores []StoreLocation) (StoreLocation, float64, error) {
	if len(stores) == 0 {
		return StoreLocation{}, 0, ErrNoStores
	}
	best := -1
	bestKm := math.Inf(1)
	for i, s := range stores {
		km := roundKm(DistanceKm(p, s.Point))
		if best < 0 || km < bestKm || (km == bestKm && s.Address < stores[best].Address) {
			best, bestKm = i, km
		}
	}
	return stores[best], bestKm, nil
}

func roundKm(km float64) float64 {
	return math.Round(km*1000) / 1000
}
