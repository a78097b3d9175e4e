// Command validate checks provider payload fixtures against the alert
// normalization rules: it runs the real provider over each payload, verifies
// the invariants every normalized alert must satisfy, and optionally compares
// the result with a normalized fixture produced by genmock.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -provider openweathermap \
//	  -payload data/mock/openweathermap_onecall_alerts.json \
//	  -expected data/mock/openweathermap_normalized.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-alerts-service/internal/domain"
	"github.com/couchcryptid/weather-alerts-service/internal/provider"
)

// fixedNow matches genmock so fallback start times line up.
var fixedNow = time.Date(2024, time.January, 15, 14, 0, 0, 0, time.UTC)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	providerID := flag.String("provider", provider.WeatherAPIID, "provider identifier (weatherapi, openweathermap)")
	payloadPath := flag.String("payload", "", "raw provider payload fixture")
	expectedPath := flag.String("expected", "", "optional normalized alerts fixture to compare against")
	flag.Parse()

	if *payloadPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(strings.ToLower(*providerID), *payloadPath, *expectedPath))
}

func run(providerID, payloadPath, expectedPath string) int {
	domain.SetClock(clockwork.NewFakeClockAt(fixedNow))
	defer domain.SetClock(nil)

	fmt.Println("=== Weather Alert Fixture Validation ===")
	fmt.Println()

	raw, err := os.ReadFile(payloadPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read payload: %v\n", err)
		return 1
	}

	shape := validatePayloadShape(providerID, raw)
	if !shape.passed() {
		report([]*phase{shape})
		return 1
	}

	update, err := normalize(providerID, string(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		shape,
		validateInvariants(update),
	}
	if providerID == provider.OpenWeatherMapID {
		phases = append(phases, validateSegmentation(update))
	}
	if expectedPath != "" {
		phases = append(phases, validateExpected(update, expectedPath))
	}

	fmt.Printf("Provider: %s, location: %q, alerts: %d\n\n",
		update.ProviderName, update.LocationName, len(update.CurrentWeatherAlerts))
	if report(phases) {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func report(phases []*phase) bool {
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}
	return allPassed
}

// normalize runs one fetch cycle of the real provider over the payload.
func normalize(providerID, mock string) (domain.AlertsUpdate, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := provider.NewDefaultRegistry(logger)
	if _, err := registry.Lookup(providerID); err != nil {
		return domain.AlertsUpdate{}, err
	}
	p := registry.Initialize(providerID, provider.Config{MockData: mock}, provider.Deps{Logger: logger})

	results := make(chan domain.FetchResult, 1)
	p.FetchCurrentWeatherAlerts(context.Background(), nil, func(r domain.FetchResult) { results <- r })
	if r := <-results; r.Err != nil {
		return domain.AlertsUpdate{}, fmt.Errorf("normalize payload: %w", r.Err)
	}

	return domain.AlertsUpdate{
		CurrentWeatherAlerts: domain.FlattenAll(p.CurrentWeatherAlerts()),
		LocationName:         p.FetchedLocation(),
		ProviderName:         p.Name(),
	}, nil
}

// ── Phase 1: Payload Shape ──

func validatePayloadShape(providerID string, raw []byte) *phase {
	p := &phase{name: "Phase 1: Payload Shape"}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		p.errorf("payload is not a JSON object: %v", err)
		return p
	}

	var list json.RawMessage
	switch providerID {
	case provider.OpenWeatherMapID:
		list = doc["alerts"]
		if _, ok := doc["timezone_offset"]; !ok {
			p.errorf("onecall payload has no timezone_offset")
		}
	default:
		var alerts map[string]json.RawMessage
		if err := json.Unmarshal(doc["alerts"], &alerts); err != nil {
			p.errorf("alerts is not an object: %v", err)
			return p
		}
		list = alerts["alert"]
		if _, ok := doc["location"]; !ok {
			p.errorf("payload has no location object")
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(list, &items); err != nil {
		p.errorf("alert list is not an array: %v", err)
		return p
	}
	if len(items) == 0 {
		p.errorf("alert list is empty; fixtures should exercise at least one alert")
	}
	return p
}

// ── Phase 2: Normalization Invariants ──

func validateInvariants(update domain.AlertsUpdate) *phase {
	p := &phase{name: "Phase 2: Normalization Invariants"}

	if update.ProviderName == "" {
		p.errorf("providerName is empty")
	}
	for i := range update.CurrentWeatherAlerts {
		a := &update.CurrentWeatherAlerts[i]
		pf := func(format string, args ...any) {
			p.errorf("alert %d (%q): "+format, append([]any{i, a.Event}, args...)...)
		}

		if a.Event == "" {
			pf("event is empty")
		}
		if a.Start == 0 {
			pf("start is zero")
		}
		if a.End < a.Start {
			pf("end %d precedes start %d", a.End, a.Start)
		}
		if want := colorCode(a.Event); a.ColorCode != want {
			pf("colorCode %q, expected %q", a.ColorCode, want)
		}
		if strings.Contains(a.ColorCode, " ") {
			pf("colorCode %q contains a space", a.ColorCode)
		}
	}
	return p
}

func colorCode(event string) string {
	if event == "" {
		return ""
	}
	code := strings.ReplaceAll(strings.ToLower(event), " ", "-")
	if c := event[0]; (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
		code = "_" + code
	}
	return code
}

// ── Phase 3: Segmentation ──
// Every segment lands whole in exactly one section, so the sections together
// hold the description minus its "*" separators.

func validateSegmentation(update domain.AlertsUpdate) *phase {
	p := &phase{name: "Phase 3: Description Segmentation"}

	for i := range update.CurrentWeatherAlerts {
		a := &update.CurrentWeatherAlerts[i]
		s := a.ParsedDescription
		total := len(s.Header) + len(s.Changes) + len(s.What) + len(s.Where) + len(s.When) +
			len(s.Impacts) + len(s.AdditionalDetails) + len(s.PrecautionaryActions) + len(s.Other)
		want := len(strings.ReplaceAll(a.Description, "*", ""))
		if total != want {
			p.errorf("alert %d (%q): sections hold %d bytes, description without separators has %d", i, a.Event, total, want)
		}
		if strings.Contains(a.Description, "*") && s.Header == "" && s.What == "" {
			p.errorf("alert %d (%q): segmented description produced no header or what section", i, a.Event)
		}
	}
	return p
}

// ── Phase 4: Expected Fixture ──

func validateExpected(update domain.AlertsUpdate, path string) *phase {
	p := &phase{name: "Phase 4: Expected Fixture"}

	data, err := os.ReadFile(path)
	if err != nil {
		p.errorf("read expected fixture: %v", err)
		return p
	}
	var expected domain.AlertsUpdate
	if err := json.Unmarshal(data, &expected); err != nil {
		p.errorf("parse expected fixture: %v", err)
		return p
	}

	if diff := cmp.Diff(expected, update); diff != "" {
		p.errorf("normalized output differs (-expected +got):\n%s", diff)
	}
	return p
}
