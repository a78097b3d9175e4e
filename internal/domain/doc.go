// Package domain models severe-weather alerts after normalization.
//
// # Alert Model
//
// Every provider payload is mapped onto [Alert]. The invariants are:
//
//   - Event is never empty. Providers substitute a placeholder such as
//     "Weather Alert" when the upstream record has none.
//   - Start and End are always set and End never precedes Start
//     (see [NewAlert]).
//   - ParsedDescription is always present, even if every section is empty.
//
// Alerts have no identity across fetch cycles. Each cycle produces a fresh
// set that replaces the previous one wholesale.
//
// # Description Sections
//
// NWS alert text is organized into starred paragraphs:
//
//	...FLOOD WARNING IN EFFECT...
//	* WHAT...Flooding caused by excessive rainfall.
//	* WHERE...Portions of southern California.
//	* WHEN...Until 6 PM PDT this evening.
//
// [ParseSegmentedDescription] splits on "*" and routes each segment by the
// text before its first "...". Labels are matched exactly, leading space
// included, so " WHAT" is recognized while "WHAT" is not. Concatenating the
// sections in segment order reproduces the input with the "*" removed.
//
// Providers that report the parts as discrete fields use
// [ParseStructuredDescription] instead.
//
// # Published Shape
//
// [Alert.Flatten] produces [FlatAlert], which carries Start/End as epoch
// milliseconds and a derived color code ("Flood Warning" -> "flood-warning").
package domain
