// Command genmock turns a raw provider payload into the two fixtures the test
// suites and local runs use: a MOCK_DATA line for .env files, and the
// normalized WEATHER_ALERTS_UPDATED payload the real provider produces from
// it.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -provider weatherapi \
//	  -in data/mock/weatherapi_forecast_alerts.json \
//	  -env-out data/mock/weatherapi.env \
//	  -alerts-out data/mock/weatherapi_normalized.json
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-alerts-service/internal/domain"
	"github.com/couchcryptid/weather-alerts-service/internal/provider"
)

// fixedNow makes alerts without a start time reproducible.
var fixedNow = time.Date(2024, time.January, 15, 14, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	providerID := flag.String("provider", provider.WeatherAPIID, "provider identifier (weatherapi, openweathermap)")
	in := flag.String("in", "", "raw provider payload (JSON)")
	envOut := flag.String("env-out", "", "output path for the MOCK_DATA .env line")
	alertsOut := flag.String("alerts-out", "", "output path for the normalized alerts JSON")
	flag.Parse()

	if *in == "" || (*envOut == "" && *alertsOut == "") {
		flag.Usage()
		return fmt.Errorf("missing required flags: -in and one of -env-out, -alerts-out")
	}

	raw, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}

	domain.SetClock(clockwork.NewFakeClockAt(fixedNow))
	defer domain.SetClock(nil)

	update, err := normalize(*providerID, compact.String())
	if err != nil {
		return err
	}
	log.Printf("%s: %d alerts for %q", update.ProviderName, len(update.CurrentWeatherAlerts), update.LocationName)

	if *envOut != "" {
		// Apostrophes only occur inside JSON strings, where \u0027 is equivalent.
		mock := strings.ReplaceAll(compact.String(), "'", `\u0027`)
		line := fmt.Sprintf("PROVIDER=%s\nMOCK_DATA='%s'\n", strings.ToLower(*providerID), mock)
		if err := writeFile(*envOut, []byte(line)); err != nil {
			return fmt.Errorf("writing env fixture: %w", err)
		}
		log.Printf("wrote env fixture: %s", *envOut)
	}

	if *alertsOut != "" {
		data, err := json.MarshalIndent(update, "", "  ")
		if err != nil {
			return err
		}
		if err := writeFile(*alertsOut, append(data, '\n')); err != nil {
			return fmt.Errorf("writing alerts fixture: %w", err)
		}
		log.Printf("wrote alerts fixture: %s", *alertsOut)
	}

	printStats(update)
	return nil
}

// normalize runs one fetch cycle of the real provider over mock.
func normalize(providerID, mock string) (domain.AlertsUpdate, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := provider.NewDefaultRegistry(logger)
	if _, err := registry.Lookup(providerID); err != nil {
		return domain.AlertsUpdate{}, err
	}
	p := registry.Initialize(providerID, provider.Config{MockData: mock}, provider.Deps{Logger: logger})

	results := make(chan domain.FetchResult, 1)
	p.FetchCurrentWeatherAlerts(context.Background(), nil, func(r domain.FetchResult) { results <- r })

	select {
	case r := <-results:
		if r.Err != nil {
			return domain.AlertsUpdate{}, fmt.Errorf("normalize payload: %w", r.Err)
		}
	case <-time.After(10 * time.Second):
		return domain.AlertsUpdate{}, fmt.Errorf("provider did not complete")
	}

	return domain.AlertsUpdate{
		CurrentWeatherAlerts: domain.FlattenAll(p.CurrentWeatherAlerts()),
		LocationName:         p.FetchedLocation(),
		ProviderName:         p.Name(),
	}, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

type count struct {
	key string
	n   int
}

func sortedCounts(m map[string]int) []count {
	out := make([]count, 0, len(m))
	for k, n := range m {
		out = append(out, count{k, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].key < out[j].key
	})
	return out
}

func printStats(update domain.AlertsUpdate) {
	events := map[string]int{}
	senders := map[string]int{}
	sections := map[string]int{}
	var withDetails, withTags int

	for i := range update.CurrentWeatherAlerts {
		a := &update.CurrentWeatherAlerts[i]
		events[a.Event]++
		senders[a.SenderName]++
		if a.Details != nil {
			withDetails++
		}
		if len(a.Tags) > 0 {
			withTags++
		}
		for name, v := range sectionValues(a.ParsedDescription) {
			if v != "" {
				sections[name]++
			}
		}
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Provider: %s\n", update.ProviderName)
	fmt.Printf("Location: %s\n", update.LocationName)
	fmt.Printf("Total: %d (with details=%d, with tags=%d)\n", len(update.CurrentWeatherAlerts), withDetails, withTags)

	fmt.Print("By event:")
	for _, c := range sortedCounts(events) {
		fmt.Printf(" %q=%d", c.key, c.n)
	}
	fmt.Print("\nBy sender:")
	for _, c := range sortedCounts(senders) {
		fmt.Printf(" %q=%d", c.key, c.n)
	}
	fmt.Print("\nSections present:")
	for _, c := range sortedCounts(sections) {
		fmt.Printf(" %s=%d", c.key, c.n)
	}
	fmt.Println()

	for i := range update.CurrentWeatherAlerts {
		a := &update.CurrentWeatherAlerts[i]
		fmt.Printf("\n[%d] %s (%s)\n", i, a.Event, a.ColorCode)
		fmt.Printf("  Sender: %s\n", a.SenderName)
		fmt.Printf("  Start: %s\n", time.UnixMilli(a.Start).UTC().Format(time.RFC3339))
		fmt.Printf("  End:   %s\n", time.UnixMilli(a.End).UTC().Format(time.RFC3339))
		if a.ParsedDescription.When != "" {
			fmt.Printf("  When: %s\n", a.ParsedDescription.When)
		}
		if a.ParsedDescription.Impacts != "" {
			fmt.Printf("  Impacts: %s\n", a.ParsedDescription.Impacts)
		}
	}
}

func sectionValues(s domain.LabeledSections) map[string]string {
	return map[string]string{
		"header":               s.Header,
		"changes":              s.Changes,
		"what":                 s.What,
		"where":                s.Where,
		"when":                 s.When,
		"impacts":              s.Impacts,
		"additionalDetails":    s.AdditionalDetails,
		"precautionaryActions": s.PrecautionaryActions,
		"other":                s.Other,
	}
}
