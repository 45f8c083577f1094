package ir

import (
	"math"
	"slices"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Event is an immutable semantic occurrence produced by the tokenization
// collaborator. Timestamp is stream time: the offset from the stream epoch.
//
// Construct with NewEvent so the feature map is owned by the event.
// Components never mutate an Event after it has been accepted.
type Event struct {
	Timestamp time.Duration      `json:"ts"`
	Domain    string             `json:"domain"`
	Name      string             `json:"name"`
	Intensity float64            `json:"intensity"`
	Features  map[string]float64 `json:"features,omitempty"`
}

// NewEvent creates an event, copying the feature map.
func NewEvent(ts time.Duration, domain, name string, intensity float64, features map[string]float64) Event {
	return Event{
		Timestamp: ts,
		Domain:    domain,
		Name:      name,
		Intensity: intensity,
		Features:  copyFeatures(features),
	}
}

// Type returns the event-type identity used for graph nodes and motif labels.
// The key is NFC normalized so visually identical names share a node.
func (e Event) Type() string {
	return norm.NFC.String(e.Domain + "/" + e.Name)
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	e.Features = copyFeatures(e.Features)
	return e
}

// FeatureKeys returns the feature names in sorted order.
func (e Event) FeatureKeys() []string {
	keys := make([]string, 0, len(e.Features))
	for k := range e.Features {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Validate checks required fields and value ranges.
// Returns a *ValidationError with KindMalformed on failure.
func (e Event) Validate() error {
	if e.Timestamp < 0 {
		return malformed("timestamp", "must not be negative")
	}
	if e.Domain == "" {
		return malformed("domain", "is required")
	}
	if e.Name == "" {
		return malformed("name", "is required")
	}
	if math.IsNaN(e.Intensity) || e.Intensity < 0 || e.Intensity > 1 {
		return malformed("intensity", "must be within [0,1]")
	}
	for k, v := range e.Features {
		if k == "" {
			return malformed("features", "feature name is empty")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return malformed("features."+k, "must be finite")
		}
	}
	return nil
}

func copyFeatures(src map[string]float64) map[string]float64 {
	if src == nil {
		return nil
	}
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
