package provider

import "time"

// Config is the per-instance provider configuration. Zero values mean
// "use the provider default".
type Config struct {
	Provider          string        `yaml:"provider"`
	Type              string        `yaml:"type"`
	Lat               *float64      `yaml:"lat"`
	Lon               *float64      `yaml:"lon"`
	Location          string        `yaml:"location"`
	LocationID        string        `yaml:"locationID"`
	APIKey            string        `yaml:"apiKey"`
	Lang              string        `yaml:"lang"`
	Units             string        `yaml:"units"`
	APIBase           string        `yaml:"apiBase"`
	APIVersion        string        `yaml:"apiVersion"`
	WeatherEndpoint   string        `yaml:"weatherEndpoint"`
	MockData          string        `yaml:"mockData"`
	UpdateInterval    time.Duration `yaml:"updateInterval"`
	InitialLoadDelay  time.Duration `yaml:"initialLoadDelay"`
	MaxNumberOfAlerts int           `yaml:"maxNumberOfAlerts"`
}

// TypeAlerts is the only supported Config.Type.
const TypeAlerts = "alerts"

// Defaults shared by every provider variant.
var Defaults = Config{
	Provider:       WeatherAPIID,
	Type:           TypeAlerts,
	Lang:           "en",
	Units:          "metric",
	UpdateInterval: 10 * time.Minute,
}

// WithDefaults fills every unset field of c from def. Values already set on
// c always win.
func (c Config) WithDefaults(def Config) Config {
	orString(&c.Provider, def.Provider)
	orString(&c.Type, def.Type)
	orString(&c.Location, def.Location)
	orString(&c.LocationID, def.LocationID)
	orString(&c.APIKey, def.APIKey)
	orString(&c.Lang, def.Lang)
	orString(&c.Units, def.Units)
	orString(&c.APIBase, def.APIBase)
	orString(&c.APIVersion, def.APIVersion)
	orString(&c.WeatherEndpoint, def.WeatherEndpoint)
	orString(&c.MockData, def.MockData)
	if c.Lat == nil {
		c.Lat = def.Lat
	}
	if c.Lon == nil {
		c.Lon = def.Lon
	}
	if c.UpdateInterval == 0 {
		c.UpdateInterval = def.UpdateInterval
	}
	if c.InitialLoadDelay == 0 {
		c.InitialLoadDelay = def.InitialLoadDelay
	}
	if c.MaxNumberOfAlerts == 0 {
		c.MaxNumberOfAlerts = def.MaxNumberOfAlerts
	}
	return c
}

func orString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}
