package ir

import "fmt"

// Scale is a temporal granularity at which relationships are aggregated.
type Scale uint8

const (
	ScaleMicro Scale = iota
	ScaleMeso
	ScaleMacro
	ScaleSession
)

// NumSlidingScales is the number of scales backed by sliding windows.
// Edge scale weights are indexed by these scales only.
const NumSlidingScales = 3

// AllScales lists every scale in ascending granularity.
var AllScales = []Scale{ScaleMicro, ScaleMeso, ScaleMacro, ScaleSession}

func (s Scale) String() string {
	switch s {
	case ScaleMicro:
		return "micro"
	case ScaleMeso:
		return "meso"
	case ScaleMacro:
		return "macro"
	case ScaleSession:
		return "session"
	default:
		return fmt.Sprintf("scale(%d)", uint8(s))
	}
}

// Sliding reports whether the scale uses overlapping fixed-hop windows.
func (s Scale) Sliding() bool {
	return s < ScaleSession
}

// ParseScale converts a scale name into a Scale.
func ParseScale(name string) (Scale, error) {
	for _, s := range AllScales {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown scale %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Scale) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scale) UnmarshalText(b []byte) error {
	v, err := ParseScale(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// RelationKind is the closed set of edge relation kinds.
type RelationKind uint8

const (
	Succession RelationKind = iota
	CoOccurrence
	Causal
	Inhibition
)

// NumRelationKinds is the number of relation kinds.
const NumRelationKinds = 4

// AllRelationKinds lists every relation kind.
var AllRelationKinds = []RelationKind{Succession, CoOccurrence, Causal, Inhibition}

func (k RelationKind) String() string {
	switch k {
	case Succession:
		return "succession"
	case CoOccurrence:
		return "co-occurrence"
	case Causal:
		return "causal"
	case Inhibition:
		return "inhibition"
	default:
		return fmt.Sprintf("relation(%d)", uint8(k))
	}
}

// Directed reports whether edges of this kind have a meaningful direction.
// Co-occurrence edges are symmetric and stored with the lower node first.
func (k RelationKind) Directed() bool {
	return k != CoOccurrence
}

// ParseRelationKind converts a relation name into a RelationKind.
func ParseRelationKind(name string) (RelationKind, error) {
	for _, k := range AllRelationKinds {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown relation kind %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (k RelationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RelationKind) UnmarshalText(b []byte) error {
	v, err := ParseRelationKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Tier identifies which partition of the graph an entity lives in.
type Tier uint8

const (
	// TierSession entities are volatile, decay fast and are never persisted.
	TierSession Tier = iota
	// TierCore entities are persisted and decay slowly.
	TierCore
)

func (t Tier) String() string {
	if t == TierCore {
		return "core"
	}
	return "session"
}

// MotifState is the promotion state of a motif.
type MotifState uint8

const (
	StateCandidate MotifState = iota
	StateReinforced
	StateStable
	StatePromoted
	StateStale
)

func (s MotifState) String() string {
	switch s {
	case StateCandidate:
		return "candidate"
	case StateReinforced:
		return "reinforced"
	case StateStable:
		return "stable"
	case StatePromoted:
		return "promoted"
	case StateStale:
		return "stale"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ParseMotifState converts a state name into a MotifState.
func ParseMotifState(name string) (MotifState, error) {
	for s := StateCandidate; s <= StateStale; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown motif state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s MotifState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *MotifState) UnmarshalText(b []byte) error {
	v, err := ParseMotifState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// CanTransition reports whether the state machine allows moving from s to next.
//
//	candidate  -> reinforced
//	reinforced -> stable
//	stable     -> promoted | stale
//	promoted   -> stale
//	stale      -> stable
func (s MotifState) CanTransition(next MotifState) bool {
	switch s {
	case StateCandidate:
		return next == StateReinforced
	case StateReinforced:
		return next == StateStable
	case StateStable:
		return next == StatePromoted || next == StateStale
	case StatePromoted:
		return next == StateStale
	case StateStale:
		return next == StateStable
	default:
		return false
	}
}

// Established reports whether the motif has passed the stable gate at least once
// and is still considered live.
func (s MotifState) Established() bool {
	return s == StateStable || s == StatePromoted
}
