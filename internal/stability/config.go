package stability

// Config holds the promotion thresholds.
type Config struct {
	MinStability  float64
	MinSessions   int
	MinPrevalence float64

	// MaxPValue bounds the Benjamini-Hochberg adjusted p-value, so it is
	// the false discovery rate allowed among the motifs tested at one
	// session close.
	MaxPValue float64

	// MinSignificantSessions is the number of session closes whose test
	// must have passed.
	MinSignificantSessions int

	// Permutations is the number of shuffles per significance test.
	Permutations int

	// MinLift requires the observed count to exceed the shuffled mean by
	// this factor, in addition to the p-value.
	MinLift float64

	// DuplicateSimilarity is the labeled-edge Jaccard similarity at which
	// a motif counts as a near-duplicate of an established one.
	DuplicateSimilarity float64

	// StaleRatio sets the stale threshold to MinStability*StaleRatio.
	StaleRatio float64

	// SessionDecay is the recency factor applied per idle session.
	SessionDecay float64

	// MinReinforceWindows is the distinct-window count for reinforcement.
	MinReinforceWindows int

	Seed int64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinStability:           0.7,
		MinSessions:            3,
		MinPrevalence:          0.2,
		MaxPValue:              0.05,
		MinSignificantSessions: 2,
		Permutations:           199,
		MinLift:                2,
		DuplicateSimilarity:    0.9,
		StaleRatio:             0.5,
		SessionDecay:           0.5,
		MinReinforceWindows:    2,
		Seed:                   1,
	}
}

// StaleThreshold is the stability below which an established motif goes stale.
func (c Config) StaleThreshold() float64 {
	return c.MinStability * c.StaleRatio
}

// Gate is the evidence the stable transition is decided on.
type Gate struct {
	Stability           float64
	Sessions            int
	SignificantSessions int
	Prevalence          float64
	PValue              float64
	Duplicate           bool
}

// Admits reports whether g clears every stable gate: stability, distinct
// sessions with a passing test among them, prevalence, p-value, and not a
// near-duplicate.
func (c Config) Admits(g Gate) bool {
	return g.Stability > c.MinStability &&
		g.Sessions >= c.MinSessions &&
		g.SignificantSessions >= c.MinSignificantSessions &&
		g.Prevalence > c.MinPrevalence &&
		g.PValue < c.MaxPValue &&
		!g.Duplicate
}
