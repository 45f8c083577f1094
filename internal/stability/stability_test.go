package stability

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/motif"
	"github.com/roach88/eresion/internal/window"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// dodgeAttack returns reps of dodge, attack, dodge one second apart.
func dodgeAttack(reps int) []ir.Event {
	var events []ir.Event
	for i := 0; i < reps; i++ {
		base := i * 1000
		events = append(events,
			ir.NewEvent(ms(base), "game", "dodge", 0.8, nil),
			ir.NewEvent(ms(base+120), "game", "attack", 1, nil),
			ir.NewEvent(ms(base+240), "game", "dodge", 0.8, nil))
	}
	return events
}

// randomStream returns n events of random type at random gaps.
func randomStream(rng *rand.Rand, n int) []ir.Event {
	names := []string{"dodge", "attack", "jump", "block", "idle"}
	var events []ir.Event
	at := 0
	for i := 0; i < n; i++ {
		at += 40 + rng.Intn(400)
		events = append(events, ir.NewEvent(ms(at), "game", names[rng.Intn(len(names))], 1, nil))
	}
	return events
}

type pipeline struct {
	t           *testing.T
	miner       *motif.Miner
	reg         *motif.Registry
	scorer      *Scorer
	transitions []Transition
	requests    []PromotionRequest
}

func newPipeline(t *testing.T, cfg Config) *pipeline {
	mcfg := motif.DefaultConfig()
	reg := motif.NewRegistry(mcfg)
	return &pipeline{
		t:      t,
		miner:  motif.NewMiner(mcfg),
		reg:    reg,
		scorer: NewScorer(cfg, mcfg, reg),
	}
}

// session feeds one session through the meso windows and closes it.
func (p *pipeline) session(id string, events []ir.Event) {
	p.t.Helper()
	m := window.NewManager(window.DefaultConfig())
	m.Register(ir.ScaleMeso, func(snap *window.Snapshot) {
		res, err := p.miner.Mine(context.Background(), snap)
		require.NoError(p.t, err)
		report := p.reg.Apply(res)
		tr, req, err := p.scorer.Evaluate(report.Touched, snap.Window, snap.Session)
		require.NoError(p.t, err)
		p.transitions = append(p.transitions, tr...)
		p.requests = append(p.requests, req...)
	})
	m.Register(ir.ScaleSession, func(snap *window.Snapshot) {
		tr, req, err := p.scorer.CloseSession(context.Background(), snap)
		require.NoError(p.t, err)
		p.transitions = append(p.transitions, tr...)
		p.requests = append(p.requests, req...)
	})
	m.StartSession(id, 0)
	for _, ev := range events {
		m.Insert(ev, nil)
	}
	m.Flush()
}

func (p *pipeline) states(id string) []ir.MotifState {
	var out []ir.MotifState
	for _, tr := range p.transitions {
		if tr.MotifID == id {
			out = append(out, tr.To)
		}
	}
	return out
}

func TestAdmits_RequiresEveryGate(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		g := Gate{
			Stability:           rng.Float64(),
			Sessions:            rng.Intn(6),
			SignificantSessions: rng.Intn(4),
			Prevalence:          rng.Float64(),
			PValue:              rng.Float64() / 5,
			Duplicate:           rng.Intn(8) == 0,
		}
		if cfg.Admits(g) {
			assert.Greater(t, g.Stability, cfg.MinStability)
			assert.GreaterOrEqual(t, g.Sessions, cfg.MinSessions)
			assert.GreaterOrEqual(t, g.SignificantSessions, cfg.MinSignificantSessions)
			assert.Greater(t, g.Prevalence, cfg.MinPrevalence)
			assert.Less(t, g.PValue, cfg.MaxPValue)
			assert.False(t, g.Duplicate)
		}
	}
}

func TestAdmits_ThreeOfFourFails(t *testing.T) {
	cfg := DefaultConfig()
	pass := Gate{Stability: 0.9, Sessions: 3, SignificantSessions: 2, Prevalence: 0.5, PValue: 0.01}
	require.True(t, cfg.Admits(pass))

	tests := []struct {
		name string
		gate func(g Gate) Gate
	}{
		{"low stability", func(g Gate) Gate { g.Stability = 0.7; return g }},
		{"two sessions", func(g Gate) Gate { g.Sessions = 2; return g }},
		{"significant once", func(g Gate) Gate { g.SignificantSessions = 1; return g }},
		{"rare", func(g Gate) Gate { g.Prevalence = 0.2; return g }},
		{"not significant", func(g Gate) Gate { g.PValue = 0.05; return g }},
		{"duplicate", func(g Gate) Gate { g.Duplicate = true; return g }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, cfg.Admits(tt.gate(pass)))
		})
	}
}

func TestScore_SessionStep(t *testing.T) {
	s := NewScorer(DefaultConfig(), motif.DefaultConfig(), motif.NewRegistry(motif.DefaultConfig()))
	assert.Zero(t, s.sessionStep(0))
	assert.Equal(t, 0.3, s.sessionStep(1))
	assert.Equal(t, 0.6, s.sessionStep(2))
	assert.Equal(t, 1.0, s.sessionStep(3))
	assert.Equal(t, 1.0, s.sessionStep(9))
}

func TestFirstTestSession(t *testing.T) {
	tests := []struct {
		minSessions, minSignificant, want int
	}{
		{3, 2, 2},
		{3, 1, 3},
		{3, 3, 1},
		{1, 1, 1},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.MinSessions = tt.minSessions
		cfg.MinSignificantSessions = tt.minSignificant
		s := NewScorer(cfg, motif.DefaultConfig(), motif.NewRegistry(motif.DefaultConfig()))
		assert.Equal(t, tt.want, s.firstTestSession(), "min_sessions=%d min_significant=%d", tt.minSessions, tt.minSignificant)
	}
}

func TestScore_Consistency(t *testing.T) {
	tests := []struct {
		name     string
		strength []float64
		want     float64
	}{
		{"single window", []float64{2}, 1},
		{"steady", []float64{2, 2, 2}, 1},
		{"noisy", []float64{1, 3}, 0.75},
		{"erratic", []float64{0, 4}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &motif.Entry{Stats: motif.Stats{Strength: tt.strength}}
			assert.InDelta(t, tt.want, consistency(e), 1e-9)
		})
	}
}

func TestScorer_Lifecycle(t *testing.T) {
	p := newPipeline(t, DefaultConfig())
	reps := []int{13, 13, 12, 12}
	for i, n := range reps[:3] {
		p.session([]string{"s1", "s2", "s3", "s4"}[i], dodgeAttack(n))
	}

	stable := p.reg.Motifs(ir.StateStable)
	require.Len(t, stable, 1)
	m := stable[0]
	assert.Equal(t, []string{"game/attack", "game/dodge", "game/dodge"}, m.Labels)
	assert.Equal(t, "s3", m.StableSession)
	assert.Greater(t, m.Stability, 0.7)
	assert.Less(t, m.PValue, 0.05)
	e, ok := p.reg.Get(m.ID)
	require.True(t, ok)
	assert.GreaterOrEqual(t, e.Stats.SignificantSessions, 2)
	assert.Equal(t, []ir.MotifState{ir.StateReinforced, ir.StateStable}, p.states(m.ID))
	assert.Empty(t, p.requests, "no promotion in the session it became stable")

	p.session("s4", dodgeAttack(reps[3]))
	require.NotEmpty(t, p.requests)
	req := p.requests[0]
	assert.Equal(t, m.ID, req.MotifID)
	assert.Equal(t, "s4", req.Session)

	tr, err := p.scorer.ConfirmPromotion(req.MotifID, req.Window)
	require.NoError(t, err)
	assert.Equal(t, ir.StateStable, tr.From)
	assert.Equal(t, ir.StatePromoted, tr.To)
	assert.Equal(t, ir.StatePromoted, tr.Event().State)

	_, err = p.scorer.ConfirmPromotion(req.MotifID, req.Window)
	assert.Error(t, err, "promoted motifs cannot be promoted again")

	_, err = p.scorer.ConfirmPromotion("missing", req.Window)
	assert.ErrorIs(t, err, motif.ErrNotFound)
}

func TestScorer_GoesStaleWhenIdle(t *testing.T) {
	p := newPipeline(t, DefaultConfig())
	for _, id := range []string{"s1", "s2", "s3"} {
		p.session(id, dodgeAttack(12))
	}
	require.Len(t, p.reg.Motifs(ir.StateStable), 1)
	id := p.reg.Motifs(ir.StateStable)[0].ID

	rng := rand.New(rand.NewSource(3))
	for _, sid := range []string{"idle1", "idle2"} {
		p.session(sid, []ir.Event{ir.NewEvent(ms(rng.Intn(100)), "ui", "click", 1, nil)})
	}
	e, ok := p.reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, ir.StateStale, e.Motif.State)
	assert.Equal(t, 2, e.Stats.IdleSessions)

	p.session("back", dodgeAttack(12))
	e, _ = p.reg.Get(id)
	assert.Equal(t, ir.StateStable, e.Motif.State, "a stale motif that recurs regains stability")
}

func TestScorer_RandomStreamPromotesNothing(t *testing.T) {
	for _, seed := range []int64{9, 11, 12, 21, 34} {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			p := newPipeline(t, DefaultConfig())
			rng := rand.New(rand.NewSource(seed))
			for _, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
				p.session(id, randomStream(rng, 200))
			}
			assert.Empty(t, p.reg.Motifs(ir.StateStable, ir.StatePromoted))
			assert.Empty(t, p.requests)
		})
	}
}

func TestCorrect_BenjaminiHochberg(t *testing.T) {
	s := NewScorer(DefaultConfig(), motif.DefaultConfig(), motif.NewRegistry(motif.DefaultConfig()))
	raw := []float64{0.04, 0.005, 0.03, 0.5}
	tested := make([]trial, len(raw))
	for i, p := range raw {
		tested[i] = trial{id: fmt.Sprint(i), sig: motif.Significance{Observed: 5, RawPValue: p, PValue: p, Pass: p < 0.05}}
	}
	s.correct(tested)

	// Sorted: 0.005, 0.03, 0.04, 0.5 over m=4 gives 0.02, 0.053, 0.053, 0.5.
	assert.InDelta(t, 0.02, tested[1].sig.PValue, 1e-9)
	assert.InDelta(t, 0.04*4/3, tested[2].sig.PValue, 1e-9)
	assert.InDelta(t, 0.04*4/3, tested[0].sig.PValue, 1e-9)
	assert.InDelta(t, 0.5, tested[3].sig.PValue, 1e-9)
	assert.True(t, tested[1].sig.Pass)
	assert.False(t, tested[0].sig.Pass, "raw 0.04 does not survive the family")
	assert.False(t, tested[2].sig.Pass)
	assert.Equal(t, 0.04, tested[0].sig.RawPValue)

	single := []trial{{sig: motif.Significance{Observed: 5, RawPValue: 0.01, PValue: 0.01, Pass: true}}}
	s.correct(single)
	assert.Equal(t, 0.01, single[0].sig.PValue)
	assert.True(t, single[0].sig.Pass)
}

func TestNearDuplicate(t *testing.T) {
	s := NewScorer(DefaultConfig(), motif.DefaultConfig(), motif.NewRegistry(motif.DefaultConfig()))
	fp := func(labels []string, keys ...string) motif.Footprint {
		return motif.Footprint{Keys: keys, Labels: labels}
	}
	combo := fp([]string{"game/attack", "game/dodge"},
		"game/attack>game/dodge:succession", "game/dodge>game/attack:succession", "game/dodge>game/dodge:succession")

	tests := []struct {
		name  string
		other motif.Footprint
		want  bool
	}{
		{"same edges", combo, true},
		{"superset of edges", fp([]string{"game/attack", "game/dodge"},
			"game/attack>game/attack:succession", "game/attack>game/dodge:succession",
			"game/dodge>game/attack:succession", "game/dodge>game/dodge:succession"), true},
		{"subset of edges", fp([]string{"game/attack", "game/dodge"}, "game/attack>game/dodge:succession"), true},
		{"same vocabulary, shared edge", fp([]string{"game/attack", "game/dodge"},
			"game/attack>game/attack:succession", "game/attack>game/dodge:succession"), true},
		{"same vocabulary, no shared edge", fp([]string{"game/attack"}, "game/attack>game/attack:succession"), false},
		{"new label", fp([]string{"game/attack", "game/block", "game/dodge"},
			"game/attack>game/block:succession", "game/attack>game/dodge:succession"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.nearDuplicate(tt.other, combo))
		})
	}
}

func TestPermute(t *testing.T) {
	s := NewScorer(DefaultConfig(), motif.DefaultConfig(), motif.NewRegistry(motif.DefaultConfig()))
	shape := motif.Canonicalize(
		[]string{"game/dodge", "game/attack", "game/dodge"},
		[]ir.MotifEdge{
			{From: 0, To: 1, Kind: ir.Succession},
			{From: 0, To: 2, Kind: ir.Succession},
			{From: 1, To: 2, Kind: ir.Succession},
		})

	labels, ts := motif.Labels(dodgeAttack(12))
	sig, err := s.Permute(context.Background(), labels, ts, shape, ir.ScaleMeso, 1)
	require.NoError(t, err)
	assert.Equal(t, 12, sig.Observed)
	assert.Less(t, sig.PValue, 0.05)
	assert.Equal(t, sig.RawPValue, sig.PValue, "uncorrected until the session closes")
	assert.True(t, sig.Pass)

	again, err := s.Permute(context.Background(), labels, ts, shape, ir.ScaleMeso, 1)
	require.NoError(t, err)
	assert.Equal(t, sig, again, "same seed, same outcome")

	rng := rand.New(rand.NewSource(5))
	labels, ts = motif.Labels(randomStream(rng, 120))
	sig, err = s.Permute(context.Background(), labels, ts, shape, ir.ScaleMeso, 1)
	require.NoError(t, err)
	assert.False(t, sig.Pass)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Permute(ctx, labels, ts, shape, ir.ScaleMeso, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, jaccard(nil, nil))
	assert.Equal(t, 1.0, jaccard([]string{"a", "b"}, []string{"a", "b"}))
	assert.InDelta(t, 1.0/3, jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}
