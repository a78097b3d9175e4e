package domain

import (
	"regexp"
	"strings"
	"time"
)

// LabeledSections is an alert description split into the NWS section
// vocabulary. Sections that were not present are empty strings.
type LabeledSections struct {
	Header               string `json:"header"`
	Changes              string `json:"changes"`
	What                 string `json:"what"`
	Where                string `json:"where"`
	When                 string `json:"when"`
	Impacts              string `json:"impacts"`
	AdditionalDetails    string `json:"additionalDetails"`
	PrecautionaryActions string `json:"precautionaryActions"`
	Other                string `json:"other"`
}

// StructuredFields are the discrete attributes a provider reports for an
// alert, used when the description does not need to be segmented.
type StructuredFields struct {
	Headline    string
	Event       string
	Areas       string
	Start       time.Time
	End         time.Time
	Description string
	Instruction string
}

// WindowLayout renders the "when" section of structured alerts.
const WindowLayout = "January 2, 2006 3:04 PM"

var (
	// impactsRe pulls the impacts paragraph out of a free-form description,
	// e.g. "* IMPACTS...Flooding of roads. * WHEN" -> "Flooding of roads.".
	impactsRe = regexp.MustCompile(`(?is)\*\s*IMPACTS[.:\s]+([^*]*)`)
)

// section labels as they appear between "*" and the first "...".
const (
	labelHeader      = ""
	labelChanges     = " CHANGES"
	labelWhat        = " WHAT"
	labelWhere       = " WHERE"
	labelWhen        = " WHEN"
	labelImpacts     = " IMPACTS"
	labelDetails     = " ADDITIONAL DETAILS"
	labelPrecautions = " PRECAUTIONARY / PREPAREDNESS ACTIONS"
)

// ParseSegmentedDescription splits a free-text NWS description on "*" and
// routes each segment by the label preceding its first "...". Matching is
// exact and case-sensitive. Whole segments, label included, are appended to
// their section. The first segment always lands in Header; later segments
// with an unknown label go to Other.
func ParseSegmentedDescription(text string) LabeledSections {
	var s LabeledSections
	for i, segment := range strings.Split(text, "*") {
		label, _, _ := strings.Cut(segment, "...")
		switch label {
		case labelHeader:
			s.Header += segment
		case labelChanges:
			s.Changes += segment
		case labelWhat:
			s.What += segment
		case labelWhere:
			s.Where += segment
		case labelWhen:
			s.When += segment
		case labelImpacts:
			s.Impacts += segment
		case labelDetails:
			s.AdditionalDetails += segment
		case labelPrecautions:
			s.PrecautionaryActions += segment
		default:
			if i == 0 {
				s.Header += segment
			} else {
				s.Other += segment
			}
		}
	}
	return s
}

// ParseStructuredDescription assigns discrete provider fields to sections.
// Impacts are still recovered from the description text when present.
func ParseStructuredDescription(f StructuredFields) LabeledSections {
	return LabeledSections{
		Header:               f.Headline,
		What:                 f.Event,
		Where:                f.Areas,
		When:                 FormatWindow(f.Start, f.End),
		Impacts:              extractImpacts(f.Description),
		AdditionalDetails:    f.Description,
		PrecautionaryActions: f.Instruction,
	}
}

// FormatWindow renders an alert validity window in the time zone the times
// carry. Zero times render as empty.
func FormatWindow(start, end time.Time) string {
	if start.IsZero() && end.IsZero() {
		return ""
	}
	return formatMoment(start) + " - " + formatMoment(end)
}

func formatMoment(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(WindowLayout)
}

func extractImpacts(description string) string {
	m := impactsRe.FindStringSubmatch(description)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
