package domain

import (
	"context"
	"log/slog"
)

// ResolveGeo turns a named place into coordinates. It returns false when
// geocoder is nil, the lookup fails, or nothing matched; callers then fall
// back to querying the provider by name (graceful degradation).
func ResolveGeo(ctx context.Context, name string, geocoder Geocoder, logger *slog.Logger) (Geo, bool) {
	if geocoder == nil || name == "" {
		return Geo{}, false
	}

	result, err := geocoder.ForwardGeocode(ctx, name)
	if err != nil {
		logger.Warn("forward geocoding failed", "location", name, "error", err)
		return Geo{}, false
	}
	if result.Lat == 0 && result.Lon == 0 {
		return Geo{}, false
	}
	return Geo{Lat: result.Lat, Lon: result.Lon}, true
}

// DescribeGeo returns a human-readable place name for coordinates, or false
// when geocoder is nil or the lookup produced nothing usable.
func DescribeGeo(ctx context.Context, geo Geo, geocoder Geocoder, logger *slog.Logger) (string, bool) {
	if geocoder == nil {
		return "", false
	}

	result, err := geocoder.ReverseGeocode(ctx, geo.Lat, geo.Lon)
	if err != nil {
		logger.Warn("reverse geocoding failed", "lat", geo.Lat, "lon", geo.Lon, "error", err)
		return "", false
	}
	if result.FormattedAddress == "" {
		return "", false
	}
	return result.FormattedAddress, true
}
