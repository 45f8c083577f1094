package stability

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"strconv"
	"time"

	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/motif"
	"github.com/roach88/eresion/internal/window"
)

// maxAttempts bounds retries of a version-checked write.
const maxAttempts = 3

// Score is the decomposed stability of one motif.
type Score struct {
	Consistency       float64 `json:"consistency"`
	Persistence       float64 `json:"persistence"`
	SessionRecurrence float64 `json:"session_recurrence"`
	Significance      float64 `json:"significance"`
	Recency           float64 `json:"recency"`
	Stability         float64 `json:"stability"`
}

// Transition is one motif state change.
type Transition struct {
	MotifID string        `json:"motif_id"`
	From    ir.MotifState `json:"from"`
	To      ir.MotifState `json:"to"`
	Window  ir.Window     `json:"window"`
	Motif   ir.Motif      `json:"motif"`
}

// Event converts the transition into the subscriber notification.
func (t Transition) Event() ir.MotifEvent {
	return ir.MotifEvent{
		MotifID:          t.MotifID,
		State:            t.To,
		Centroid:         t.Motif.Centroid,
		Stability:        t.Motif.Stability,
		TriggeringWindow: t.Window,
	}
}

// PromotionRequest asks the promotion coordinator to move a stable motif
// into the core graph. The motif is promoted only once ConfirmPromotion
// succeeds.
type PromotionRequest struct {
	MotifID string      `json:"motif_id"`
	Shape   motif.Shape `json:"shape"`
	Version uint64      `json:"version"`
	Window  ir.Window   `json:"window"`
	Session string      `json:"session"`
}

// Scorer computes stability and applies state transitions.
type Scorer struct {
	cfg   Config
	mcfg  motif.Config
	reg   *motif.Registry
	stale float64
}

// NewScorer creates a scorer over reg. mcfg must match the configuration
// the motifs were mined with.
func NewScorer(cfg Config, mcfg motif.Config, reg *motif.Registry) *Scorer {
	return &Scorer{cfg: cfg, mcfg: mcfg, reg: reg, stale: cfg.StaleThreshold()}
}

// Config returns the scorer thresholds.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score computes the stability of an entry from its statistics.
func (s *Scorer) Score(e *motif.Entry) Score {
	sc := Score{
		Consistency:       consistency(e),
		Persistence:       e.Motif.Persistence,
		SessionRecurrence: s.sessionStep(e.SessionCount()),
		Recency:           math.Pow(s.cfg.SessionDecay, float64(e.Stats.IdleSessions)),
	}
	if e.Stats.Significance.Pass {
		sc.Significance = 1
	}
	sc.Stability = sc.Consistency * sc.Persistence * sc.SessionRecurrence * sc.Significance * sc.Recency
	return sc
}

// preScore is the stability the entry would have if significant and seen
// in enough sessions.
func (s *Scorer) preScore(e *motif.Entry) float64 {
	sc := s.Score(e)
	return sc.Consistency * sc.Persistence * sc.Recency
}

func consistency(e *motif.Entry) float64 {
	h := e.Stats.Strength
	if len(h) < 2 {
		if e.Motif.Consistency > 0 {
			return e.Motif.Consistency
		}
		return 1
	}
	mean := 0.0
	for _, v := range h {
		mean += v
	}
	mean /= float64(len(h))
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range h {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(h))
	return 1 - math.Min(1, variance/(mean*mean))
}

func (s *Scorer) sessionStep(n int) float64 {
	switch {
	case n >= s.cfg.MinSessions:
		return 1
	case n == 2:
		return 0.6
	case n == 1:
		return 0.3
	default:
		return 0
	}
}

// Evaluate re-scores the given motifs after a window was applied and
// performs their transitions. Smaller shapes are evaluated first, so when
// a motif and its variants clear the gate together the smallest becomes
// stable and the rest are near-duplicates of it. A stable motif occurring
// in a session after the one it became stable in yields a promotion
// request.
func (s *Scorer) Evaluate(sigs []string, w ir.Window, session string) ([]Transition, []PromotionRequest, error) {
	sigs = slices.Clone(sigs)
	s.reg.SortBySize(sigs)
	var transitions []Transition
	var requests []PromotionRequest
	var errs []error
	for _, sig := range sigs {
		tr, req, err := s.evaluate(sig, w, session)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if tr != nil {
			transitions = append(transitions, *tr)
		}
		if req != nil {
			requests = append(requests, *req)
		}
	}
	return transitions, requests, errors.Join(errs...)
}

func (s *Scorer) evaluate(sig string, w ir.Window, session string) (*Transition, *PromotionRequest, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		e, ok := s.reg.Get(sig)
		if !ok || !e.Candidate {
			return nil, nil, nil
		}
		sc := s.Score(&e)
		from := e.Motif.State
		to := s.next(&e, sc)

		var req *PromotionRequest
		if to == ir.StateStable && from == ir.StateStable && session != "" &&
			session != e.Motif.StableSession && e.Stats.CurrentSession == session && e.Stats.SessionOccurrences > 0 {
			req = &PromotionRequest{MotifID: sig, Shape: e.Shape.Clone(), Version: e.Motif.Version + 1, Window: w, Session: session}
		}

		err := s.reg.Update(sig, e.Motif.Version, func(en *motif.Entry) error {
			s.write(en, sc)
			if to != from {
				if !from.CanTransition(to) {
					return fmt.Errorf("motif %s: illegal transition %s -> %s", sig, from, to)
				}
				en.Motif.State = to
				if to == ir.StateStable {
					en.Motif.StableSession = session
				}
			}
			return nil
		})
		if errors.Is(err, motif.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if to == from {
			return nil, req, nil
		}
		after, _ := s.reg.Get(sig)
		slog.Debug("motif transition",
			"motif", shortID(sig),
			"from", from.String(),
			"to", to.String(),
			"stability", sc.Stability)
		return &Transition{MotifID: sig, From: from, To: to, Window: w, Motif: after.Motif}, req, nil
	}
	return nil, nil, fmt.Errorf("evaluate motif %s: %w", shortID(sig), motif.ErrVersionConflict)
}

// next decides the state an entry moves to.
func (s *Scorer) next(e *motif.Entry, sc Score) ir.MotifState {
	switch e.Motif.State {
	case ir.StateCandidate:
		if e.Motif.Windows >= s.cfg.MinReinforceWindows {
			return ir.StateReinforced
		}
	case ir.StateReinforced, ir.StateStale:
		if s.cfg.Admits(s.gate(e, sc)) {
			return ir.StateStable
		}
	case ir.StateStable, ir.StatePromoted:
		if sc.Stability < s.stale {
			return ir.StateStale
		}
	}
	return e.Motif.State
}

func (s *Scorer) gate(e *motif.Entry, sc Score) Gate {
	g := Gate{
		Stability:           sc.Stability,
		Sessions:            e.SessionCount(),
		SignificantSessions: e.Stats.SignificantSessions,
		Prevalence:          e.Motif.Prevalence,
		PValue:              1,
	}
	if e.Stats.Significance.Pass {
		g.PValue = e.Stats.Significance.PValue
	}
	g.Duplicate = s.duplicate(e)
	return g
}

// duplicate reports whether the entry is a variant of an established
// motif: nearly the same labeled edges, edges containing or contained by
// the established ones, or labels drawn from the established vocabulary
// with an edge in common.
func (s *Scorer) duplicate(e *motif.Entry) bool {
	fp := motif.NewFootprint(e.Shape)
	return s.reg.AnyEstablished(e.Motif.ID, func(other motif.Footprint) bool {
		return s.nearDuplicate(fp, other)
	})
}

func (s *Scorer) nearDuplicate(a, b motif.Footprint) bool {
	if jaccard(a.Keys, b.Keys) >= s.cfg.DuplicateSimilarity {
		return true
	}
	if subset(a.Keys, b.Keys) || subset(b.Keys, a.Keys) {
		return true
	}
	return subset(a.Labels, b.Labels) && intersects(a.Keys, b.Keys)
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for _, k := range a {
		if _, ok := slices.BinarySearch(b, k); ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// subset reports whether every element of sorted a is in sorted b. The
// empty set is no one's subset here.
func subset(a, b []string) bool {
	if len(a) == 0 {
		return false
	}
	for _, k := range a {
		if _, ok := slices.BinarySearch(b, k); !ok {
			return false
		}
	}
	return true
}

func intersects(a, b []string) bool {
	for _, k := range a {
		if _, ok := slices.BinarySearch(b, k); ok {
			return true
		}
	}
	return false
}

func (s *Scorer) write(en *motif.Entry, sc Score) {
	en.Motif.Consistency = sc.Consistency
	en.Motif.Persistence = sc.Persistence
	en.Motif.Stability = sc.Stability
	en.Motif.PValue = en.Stats.Significance.PValue
	en.Motif.SessionCount = en.SessionCount()
}

// CloseSession runs the permutation test for every motif that occurred in
// the closed session and could clear the stable gate within the remaining
// sessions, corrects the
// p-values of the family with Benjamini-Hochberg, ages the other motifs,
// and re-evaluates every candidate.
func (s *Scorer) CloseSession(ctx context.Context, snap *window.Snapshot) ([]Transition, []PromotionRequest, error) {
	session := snap.Session
	labels, ts := motif.Labels(snap.Events)

	entries := s.reg.Entries(func(e *motif.Entry) bool {
		return e.Candidate && e.Stats.CurrentSession == session && e.Stats.SessionOccurrences > 0
	})
	var tested []trial
	for i := range entries {
		e := &entries[i]
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if e.SessionCount() < s.firstTestSession() || e.Motif.Prevalence <= s.cfg.MinPrevalence ||
			s.preScore(e) <= s.cfg.MinStability {
			continue
		}
		sig, err := s.Permute(ctx, labels, ts, e.Shape, e.Motif.Scale, seedFor(s.cfg.Seed, e.Motif.ID))
		if err != nil {
			return nil, nil, err
		}
		sig.Session = session
		tested = append(tested, trial{id: e.Motif.ID, version: e.Motif.Version, sig: sig})
	}
	s.correct(tested)

	for _, tr := range tested {
		err := s.reg.Update(tr.id, tr.version, func(en *motif.Entry) error {
			en.Stats.Significance = tr.sig
			en.Motif.PValue = tr.sig.PValue
			if tr.sig.Pass {
				en.Stats.SignificantSessions++
			}
			return nil
		})
		if err != nil && !errors.Is(err, motif.ErrVersionConflict) {
			return nil, nil, err
		}
		slog.Debug("permutation test",
			"motif", shortID(tr.id),
			"observed", tr.sig.Observed,
			"null_mean", tr.sig.NullMean,
			"raw_p_value", tr.sig.RawPValue,
			"p_value", tr.sig.PValue,
			"family", len(tested),
			"pass", tr.sig.Pass)
	}

	s.reg.CloseSession(session)
	return s.Evaluate(s.reg.Candidates(), snap.Window, session)
}

// firstTestSession is the session count from which a motif is tested, the
// earliest that still allows MinSignificantSessions passes by the time it
// reaches MinSessions.
func (s *Scorer) firstTestSession() int {
	return max(1, s.cfg.MinSessions-s.cfg.MinSignificantSessions+1)
}

// trial is one permutation test run at a session close.
type trial struct {
	id      string
	version uint64
	sig     motif.Significance
}

// correct replaces the raw p-values of one session's tests with
// Benjamini-Hochberg adjusted ones and decides which pass. The family is
// every shape tested at the close.
func (s *Scorer) correct(tested []trial) {
	m := len(tested)
	if m == 0 {
		return
	}
	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(tested[a].sig.RawPValue, tested[b].sig.RawPValue)
	})
	adjusted := 1.0
	for rank := m; rank >= 1; rank-- {
		t := &tested[order[rank-1]]
		adjusted = math.Min(adjusted, t.sig.RawPValue*float64(m)/float64(rank))
		t.sig.PValue = adjusted
		t.sig.Pass = t.sig.Pass && adjusted < s.cfg.MaxPValue
	}
}

// Permute runs the permutation test for one shape: event labels are
// shuffled over the fixed timestamps, and the p-value is the share of
// shuffles matching or beating the observed count, (1 + ge) / (N + 1).
// The result is uncorrected; CloseSession adjusts it for the family.
func (s *Scorer) Permute(ctx context.Context, labels []string, ts []time.Duration, shape motif.Shape, scale ir.Scale, seed int64) (motif.Significance, error) {
	observed := motif.CountOccurrences(labels, ts, shape, scale, s.mcfg)
	n := max(s.cfg.Permutations, 1)
	rng := rand.New(rand.NewSource(seed))
	shuffled := slices.Clone(labels)

	ge, sum := 0, 0
	for i := 0; i < n; i++ {
		if i%16 == 0 {
			if err := ctx.Err(); err != nil {
				return motif.Significance{}, err
			}
		}
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		c := motif.CountOccurrences(shuffled, ts, shape, scale, s.mcfg)
		sum += c
		if c >= observed {
			ge++
		}
	}
	res := motif.Significance{
		Observed:  observed,
		NullMean:  float64(sum) / float64(n),
		RawPValue: float64(1+ge) / float64(n+1),
	}
	res.PValue = res.RawPValue
	res.Pass = observed > 0 && res.PValue < s.cfg.MaxPValue && float64(observed) >= s.cfg.MinLift*res.NullMean
	return res, nil
}

// ConfirmPromotion records that a stable motif was persisted to the core
// graph.
func (s *Scorer) ConfirmPromotion(sig string, w ir.Window) (Transition, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		e, ok := s.reg.Get(sig)
		if !ok {
			return Transition{}, fmt.Errorf("confirm promotion %s: %w", shortID(sig), motif.ErrNotFound)
		}
		from := e.Motif.State
		if !from.CanTransition(ir.StatePromoted) {
			return Transition{}, fmt.Errorf("confirm promotion %s: motif is %s", shortID(sig), from)
		}
		err := s.reg.Update(sig, e.Motif.Version, func(en *motif.Entry) error {
			en.Motif.State = ir.StatePromoted
			return nil
		})
		if errors.Is(err, motif.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Transition{}, err
		}
		after, _ := s.reg.Get(sig)
		return Transition{MotifID: sig, From: from, To: ir.StatePromoted, Window: w, Motif: after.Motif}, nil
	}
	return Transition{}, fmt.Errorf("confirm promotion %s: %w", shortID(sig), motif.ErrVersionConflict)
}

// seedFor derives a per-motif seed so tests of different motifs are
// independent yet reproducible.
func seedFor(base int64, sig string) int64 {
	if len(sig) >= 15 {
		if v, err := strconv.ParseInt(sig[:15], 16, 64); err == nil {
			return base ^ v
		}
	}
	return base
}

func shortID(sig string) string {
	if len(sig) > 12 {
		return sig[:12]
	}
	return sig
}
