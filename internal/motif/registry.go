package motif

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/roach88/eresion/internal/ir"
)

// Sentinel errors for registry updates.
var (
	ErrNotFound        = errors.New("motif: not found")
	ErrVersionConflict = errors.New("motif: version conflict")
)

// Significance is the outcome of the most recent permutation test.
type Significance struct {
	Session   string  `json:"session"`
	Observed  int     `json:"observed"`
	NullMean  float64 `json:"null_mean"`
	RawPValue float64 `json:"raw_p_value"`
	// PValue is corrected for every test run at the same session close.
	PValue float64 `json:"p_value"`
	Pass   bool    `json:"pass"`
}

// Stats are the running statistics of one signature.
type Stats struct {
	// Strength is the summed occurrence strength of each window the
	// signature occurred in, most recent last.
	Strength []float64 `json:"strength"`

	// Relevant windows hold every label of the motif, one of them in the
	// final hop; prevalence is the share of them with an occurrence.
	RelevantWindows   int `json:"relevant_windows"`
	OccurrenceWindows int `json:"occurrence_windows"`

	// Epochs bucket stream time per session; persistence is the share of
	// relevant epochs with an occurrence.
	RelevantEpochs   int `json:"relevant_epochs"`
	OccurrenceEpochs int `json:"occurrence_epochs"`

	Sessions      []string `json:"sessions"`
	PriorSessions int      `json:"prior_sessions,omitempty"`

	// CurrentSession is the last session the signature occurred in and
	// SessionOccurrences its count there.
	CurrentSession     string `json:"current_session"`
	SessionOccurrences int    `json:"session_occurrences"`
	IdleSessions       int    `json:"idle_sessions"`

	Times        []time.Duration `json:"times"`
	Significance Significance    `json:"significance"`

	// SignificantSessions counts the session closes whose corrected test
	// passed.
	SignificantSessions int `json:"significant_sessions"`
}

type epochKey struct {
	session string
	epoch   int64
}

// Entry is one registry record. Entries returned by the registry are deep
// copies; mutate through Update.
type Entry struct {
	Motif     ir.Motif `json:"motif"`
	Shape     Shape    `json:"shape"`
	Stats     Stats    `json:"stats"`
	Candidate bool     `json:"candidate"`

	mean, m2     map[string]float64
	n            map[string]int
	lastWindow   uint64
	lastApply    uint64
	lastRelevant epochKey
	lastOccurred epochKey
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() Entry {
	c := *e
	c.Motif = e.Motif.Clone()
	c.Shape = e.Shape.Clone()
	c.Stats.Strength = slices.Clone(e.Stats.Strength)
	c.Stats.Sessions = slices.Clone(e.Stats.Sessions)
	c.Stats.Times = slices.Clone(e.Stats.Times)
	c.mean = maps.Clone(e.mean)
	c.m2 = maps.Clone(e.m2)
	c.n = maps.Clone(e.n)
	return c
}

// SessionCount returns the number of distinct sessions with an occurrence.
func (e *Entry) SessionCount() int {
	return e.Stats.PriorSessions + len(e.Stats.Sessions)
}

// ApplyReport lists what one mining result changed.
type ApplyReport struct {
	Touched []string `json:"touched"`
	Born    []string `json:"born"`
	Evicted int      `json:"evicted"`
}

// Registry holds every signature seen, keyed by signature. It is safe for
// concurrent use; results are applied by a single dispatcher while readers
// take copies.
type Registry struct {
	cfg Config

	mu          sync.RWMutex
	entries     map[string]*Entry
	established map[string]Footprint
	windows     [ir.NumSlidingScales]uint64
	applies     uint64
}

// Footprint is what near-duplicate checks compare: the labeled edge keys
// and the distinct labels of a shape, both sorted.
type Footprint struct {
	Keys   []string
	Labels []string
}

// NewFootprint computes the footprint of a shape.
func NewFootprint(s Shape) Footprint {
	return Footprint{Keys: s.EdgeKeys(), Labels: slices.Compact(slices.Clone(s.Labels))}
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:         cfg,
		entries:     make(map[string]*Entry),
		established: make(map[string]Footprint),
	}
}

// Apply folds a mining result into the registry. A signature becomes a
// candidate once its occurrences exceed MinSupport; state is otherwise
// left to the scorer.
func (r *Registry) Apply(res *Result) ApplyReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.windows[res.Scale]++
	r.applies++
	wn := r.windows[res.Scale]
	epoch := epochKey{session: res.Session}
	if r.cfg.EpochLength > 0 {
		epoch.epoch = int64(res.Window.End / r.cfg.EpochLength)
	}

	var report ApplyReport
	groups := make(map[string][]Occurrence)
	var order []string
	for _, o := range res.Occurrences {
		if _, ok := groups[o.Signature]; !ok {
			order = append(order, o.Signature)
		}
		groups[o.Signature] = append(groups[o.Signature], o)
	}

	for _, sig := range order {
		occs := groups[sig]
		e, ok := r.entries[sig]
		if !ok {
			e = &Entry{
				Motif: ir.Motif{
					ID:        sig,
					Labels:    slices.Clone(occs[0].Shape.Labels),
					Edges:     slices.Clone(occs[0].Shape.Edges),
					Scale:     res.Scale,
					FirstSeen: occs[0].End,
				},
				Shape: occs[0].Shape.Clone(),
				mean:  make(map[string]float64),
				m2:    make(map[string]float64),
				n:     make(map[string]int),
			}
			r.entries[sig] = e
		}
		r.observe(e, res, occs, wn)
		if !e.Candidate && e.Motif.Occurrences > r.cfg.MinSupport {
			e.Candidate = true
			e.Motif.State = ir.StateCandidate
			report.Born = append(report.Born, sig)
		}
		report.Touched = append(report.Touched, sig)
	}

	for _, e := range r.entries {
		if e.Motif.Scale != res.Scale {
			continue
		}
		_, occurred := groups[e.Motif.ID]
		if !occurred && !relevant(e, res) {
			continue
		}
		e.Stats.RelevantWindows++
		if e.lastRelevant != epoch || e.Stats.RelevantEpochs == 0 {
			e.Stats.RelevantEpochs++
			e.lastRelevant = epoch
		}
		if occurred {
			e.Stats.OccurrenceWindows++
			if e.lastOccurred != epoch || e.Stats.OccurrenceEpochs == 0 {
				e.Stats.OccurrenceEpochs++
				e.lastOccurred = epoch
			}
		}
		r.derive(e)
		e.Motif.Version++
	}

	report.Evicted = r.evict(res.Scale, wn)
	slices.Sort(report.Touched)
	slices.Sort(report.Born)
	return report
}

func (r *Registry) observe(e *Entry, res *Result, occs []Occurrence, wn uint64) {
	strength := 0.0
	for _, o := range occs {
		strength += o.Strength
		e.Motif.Occurrences++
		e.Motif.LastSeen = max(e.Motif.LastSeen, o.End)
		for k, v := range o.Features {
			e.n[k]++
			d := v - e.mean[k]
			e.mean[k] += d / float64(e.n[k])
			e.m2[k] += d * (v - e.mean[k])
		}
		e.Stats.Times = appendCapped(e.Stats.Times, o.End, r.cfg.OccurrenceCap)
	}
	e.Stats.Strength = appendCapped(e.Stats.Strength, strength, r.cfg.HistoryCap)
	e.Motif.Windows++

	if res.Session != "" && !slices.Contains(e.Stats.Sessions, res.Session) {
		e.Stats.Sessions = append(e.Stats.Sessions, res.Session)
	}
	if e.Stats.CurrentSession != res.Session {
		e.Stats.CurrentSession = res.Session
		e.Stats.SessionOccurrences = 0
	}
	e.Stats.SessionOccurrences += len(occs)
	e.Stats.IdleSessions = 0
	e.Motif.SessionCount = e.SessionCount()

	e.lastWindow = wn
	e.lastApply = r.applies
}

// derive refreshes the motif's summary statistics from its counters.
func (r *Registry) derive(e *Entry) {
	if e.Stats.RelevantWindows > 0 {
		e.Motif.Prevalence = float64(e.Stats.OccurrenceWindows) / float64(e.Stats.RelevantWindows)
	}
	if e.Stats.RelevantEpochs > 0 {
		e.Motif.Persistence = float64(e.Stats.OccurrenceEpochs) / float64(e.Stats.RelevantEpochs)
	}
	if len(e.mean) > 0 {
		e.Motif.Centroid = maps.Clone(e.mean)
		total := 0.0
		for k, m2 := range e.m2 {
			total += m2 / float64(e.n[k])
		}
		e.Motif.Variance = total / float64(len(e.m2))
	}
}

// relevant reports whether the window holds every label of the motif, with
// multiplicity, and one of them in its final hop.
func relevant(e *Entry, res *Result) bool {
	anchored := false
	for i, l := range e.Motif.Labels {
		if i > 0 && e.Motif.Labels[i-1] == l {
			continue
		}
		need := 0
		for _, m := range e.Motif.Labels {
			if m == l {
				need++
			}
		}
		if res.LabelCounts[l] < need {
			return false
		}
		if _, ok := slices.BinarySearch(res.AnchorLabels, l); ok {
			anchored = true
		}
	}
	return anchored
}

// evict drops stale non-candidate signatures of scale and, over MaxEntries,
// the least recently seen non-candidates overall.
func (r *Registry) evict(scale ir.Scale, wn uint64) int {
	evicted := 0
	for sig, e := range r.entries {
		if e.Candidate || e.Motif.Scale != scale {
			continue
		}
		if r.cfg.HorizonWindows > 0 && wn-e.lastWindow > r.cfg.HorizonWindows {
			delete(r.entries, sig)
			evicted++
		}
	}
	if r.cfg.MaxEntries <= 0 || len(r.entries) <= r.cfg.MaxEntries {
		return evicted
	}
	var pending []*Entry
	for _, e := range r.entries {
		if !e.Candidate {
			pending = append(pending, e)
		}
	}
	slices.SortFunc(pending, func(a, b *Entry) int {
		if c := cmp.Compare(a.lastApply, b.lastApply); c != 0 {
			return c
		}
		return cmp.Compare(a.Motif.ID, b.Motif.ID)
	})
	for _, e := range pending {
		if len(r.entries) <= r.cfg.MaxEntries {
			break
		}
		delete(r.entries, e.Motif.ID)
		evicted++
	}
	return evicted
}

// Get returns a copy of one entry.
func (r *Registry) Get(sig string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sig]
	if !ok {
		return Entry{}, false
	}
	return e.Clone(), true
}

// Entries returns copies of the entries accepted by keep, ordered by
// signature. A nil keep returns every candidate.
func (r *Registry) Entries(keep func(*Entry) bool) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if keep == nil && !e.Candidate {
			continue
		}
		if keep != nil && !keep(e) {
			continue
		}
		out = append(out, e.Clone())
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.Motif.ID, b.Motif.ID) })
	return out
}

// Candidates returns the candidate signatures, sorted.
func (r *Registry) Candidates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for sig, e := range r.entries {
		if e.Candidate {
			out = append(out, sig)
		}
	}
	slices.Sort(out)
	return out
}

// SortBySize orders signatures by scale, then member count, then edge
// count, then signature. Unknown signatures sort last.
func (r *Registry) SortBySize(sigs []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slices.SortFunc(sigs, func(a, b string) int {
		ea, oka := r.entries[a]
		eb, okb := r.entries[b]
		switch {
		case !oka || !okb:
			if oka != okb {
				if oka {
					return -1
				}
				return 1
			}
		default:
			if c := cmp.Compare(ea.Motif.Scale, eb.Motif.Scale); c != 0 {
				return c
			}
			if c := cmp.Compare(len(ea.Shape.Labels), len(eb.Shape.Labels)); c != 0 {
				return c
			}
			if c := cmp.Compare(len(ea.Shape.Edges), len(eb.Shape.Edges)); c != 0 {
				return c
			}
		}
		return cmp.Compare(a, b)
	})
}

// AnyEstablished reports whether match accepts the footprint of a stable
// or promoted motif other than except. The footprints must not be
// retained or modified.
func (r *Registry) AnyEstablished(except string, match func(Footprint) bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sig, fp := range r.established {
		if sig != except && match(fp) {
			return true
		}
	}
	return false
}

// track keeps the established index in step with the entry's state.
func (r *Registry) track(e *Entry) {
	if e.Candidate && e.Motif.State.Established() {
		if _, ok := r.established[e.Motif.ID]; !ok {
			r.established[e.Motif.ID] = NewFootprint(e.Shape)
		}
		return
	}
	delete(r.established, e.Motif.ID)
}

// Motifs returns the candidate motifs in the given states, ordered by
// signature. No states means every state.
func (r *Registry) Motifs(states ...ir.MotifState) []ir.Motif {
	entries := r.Entries(func(e *Entry) bool {
		return e.Candidate && (len(states) == 0 || slices.Contains(states, e.Motif.State))
	})
	out := make([]ir.Motif, len(entries))
	for i, e := range entries {
		out[i] = e.Motif
	}
	return out
}

// Len returns the number of signatures tracked, candidate or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Update applies fn to an entry if its version still equals version, then
// bumps the version. A concurrent change yields ErrVersionConflict and fn
// is not called.
func (r *Registry) Update(sig string, version uint64, fn func(*Entry) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sig]
	if !ok {
		return fmt.Errorf("update %s: %w", short(sig), ErrNotFound)
	}
	if e.Motif.Version != version {
		return fmt.Errorf("update %s: have version %d, want %d: %w", short(sig), e.Motif.Version, version, ErrVersionConflict)
	}
	if err := fn(e); err != nil {
		return err
	}
	e.Motif.Version++
	r.track(e)
	return nil
}

// CloseSession ends a session: candidates that did not occur in it age by
// one idle session.
func (r *Registry) CloseSession(session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if !e.Candidate {
			continue
		}
		if e.Stats.CurrentSession != session || e.Stats.SessionOccurrences == 0 {
			e.Stats.IdleSessions++
			e.Motif.Version++
		}
	}
}

// Restore loads persisted motifs as candidates. Their summary statistics
// stand until new observations rebuild the counters. Existing entries are
// kept.
func (r *Registry) Restore(motifs []ir.Motif) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	restored := 0
	for _, m := range motifs {
		if _, ok := r.entries[m.ID]; ok {
			continue
		}
		m = m.Clone()
		e := &Entry{
			Motif:     m,
			Shape:     Shape{Labels: slices.Clone(m.Labels), Edges: slices.Clone(m.Edges)},
			Candidate: true,
			mean:      maps.Clone(m.Centroid),
			m2:        make(map[string]float64),
			n:         make(map[string]int),
		}
		if e.mean == nil {
			e.mean = make(map[string]float64)
		}
		for k := range e.mean {
			e.n[k] = 1
		}
		e.Stats.PriorSessions = m.SessionCount
		e.Stats.Significance = Significance{RawPValue: m.PValue, PValue: m.PValue, Pass: m.State.Established()}
		if m.State.Established() {
			e.Stats.SignificantSessions = m.SessionCount
		}
		r.entries[m.ID] = e
		r.track(e)
		restored++
	}
	return restored
}

func appendCapped[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if limit > 0 && len(s) > limit {
		s = slices.Delete(s, 0, len(s)-limit)
	}
	return s
}

func short(sig string) string {
	if len(sig) > 12 {
		return sig[:12]
	}
	return sig
}
