package domain

import "strconv"

// Geo is a WGS84 coordinate pair.
type Geo struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// String renders the pair as "lat,lon" with the shortest exact decimals.
func (g Geo) String() string {
	return strconv.FormatFloat(g.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(g.Lon, 'f', -1, 64)
}

// Location is a place to fetch alerts for. Geo takes precedence over Name
// when both are set.
type Location struct {
	Geo  *Geo   `json:"geo,omitempty"`
	Name string `json:"name,omitempty"`
}

// IsZero reports whether the location carries neither coordinates nor a name.
func (l Location) IsZero() bool {
	return l.Geo == nil && l.Name == ""
}
