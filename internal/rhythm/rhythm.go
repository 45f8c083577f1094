// Package rhythm estimates the dominant period of the event stream and the
// phase alignment of graph edges relative to it.
package rhythm

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/window"
)

// Config tunes period detection and smoothing.
type Config struct {
	// MinPeriod and MaxPeriod bound the lags considered.
	MinPeriod time.Duration
	MaxPeriod time.Duration

	// Tolerance is the half-width of a lag cluster.
	Tolerance time.Duration

	// History is the span of onsets retained for detection.
	History    time.Duration
	MaxHistory int

	// MinEvents is the fewest onsets a detection is attempted on.
	MinEvents     int
	MinConfidence float64

	// Smoothing is the weight of a new detection: new = (1-s)*old + s*detected.
	Smoothing float64

	// MaxBPMRate caps tempo change in BPM per second of stream time.
	MaxBPMRate float64

	// JumpBPM is the detected change that flags a transition.
	JumpBPM float64
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		MinPeriod:     100 * time.Millisecond,
		MaxPeriod:     2 * time.Second,
		Tolerance:     15 * time.Millisecond,
		History:       8 * time.Second,
		MaxHistory:    256,
		MinEvents:     4,
		MinConfidence: 0.3,
		Smoothing:     0.1,
		MaxBPMRate:    5,
		JumpBPM:       20,
	}
}

// Detect finds the dominant period of ordered onset timestamps by
// autocorrelating the spike train: every forward lag between onsets inside
// [MinPeriod, MaxPeriod] votes, and the lag with the most votes within
// Tolerance wins. Ties go to the shorter lag. Confidence is the winning
// support over the number of consecutive onset pairs, capped at 1.
func Detect(ts []time.Duration, cfg Config) (time.Duration, float64, bool) {
	if len(ts) < max(cfg.MinEvents, 2) {
		return 0, 0, false
	}
	var lags []time.Duration
	for i := range ts {
		for j := i + 1; j < len(ts); j++ {
			lag := ts[j] - ts[i]
			if lag > cfg.MaxPeriod {
				break
			}
			if lag >= cfg.MinPeriod {
				lags = append(lags, lag)
			}
		}
	}
	if len(lags) == 0 {
		return 0, 0, false
	}
	slices.Sort(lags)

	best, bestLo, bestHi := 0, 0, 0
	lo, hi := 0, 0
	for _, l := range lags {
		for lags[lo] < l-cfg.Tolerance {
			lo++
		}
		for hi < len(lags) && lags[hi] <= l+cfg.Tolerance {
			hi++
		}
		if n := hi - lo; n > best {
			best, bestLo, bestHi = n, lo, hi
		}
	}

	var sum time.Duration
	for _, l := range lags[bestLo:bestHi] {
		sum += l
	}
	period := sum / time.Duration(bestHi-bestLo)
	confidence := min(1, float64(best)/float64(len(ts)-1))
	return period, confidence, true
}

// Alignment is the phase of one edge relative to the current period.
type Alignment struct {
	graph.EdgeRef
	Phase time.Duration `json:"phase"`
	Score float64       `json:"score"`
}

// Result is the output of one detector pass.
type Result struct {
	Detected   time.Duration `json:"detected"`
	Confidence float64       `json:"confidence"`
	Tempo      ir.Tempo      `json:"tempo"`
	Alignments []Alignment   `json:"alignments,omitempty"`
}

// Detector accumulates onsets across windows and maintains the smoothed
// tempo. Each onset and touch is counted once even when it appears in
// several overlapping windows.
//
// CRITICAL: not safe for concurrent use; owned by the analytical dispatcher.
type Detector struct {
	cfg Config

	history   []time.Duration
	touchMark time.Duration
	lastTouch map[graph.EdgeRef]time.Duration

	tempo   ir.Tempo
	updated time.Duration
}

// NewDetector creates a detector.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg, touchMark: -1, lastTouch: make(map[graph.EdgeRef]time.Duration)}
}

// Tempo returns the current smoothed tempo.
func (d *Detector) Tempo() ir.Tempo {
	return d.tempo
}

// Reset forgets onsets and edge history but keeps the tempo, so a new
// session starts from the last known beat.
func (d *Detector) Reset() {
	d.history = d.history[:0]
	d.touchMark = -1
	clear(d.lastTouch)
}

// Observe folds a closed window into the detector and returns the detected
// period, the updated tempo and the phase alignment of every edge touched
// in the window.
func (d *Detector) Observe(snap *window.Snapshot) Result {
	at := snap.Window.End
	for _, ev := range snap.Events {
		if n := len(d.history); n == 0 || ev.Timestamp > d.history[n-1] {
			d.history = append(d.history, ev.Timestamp)
		}
	}
	d.trim()

	var res Result
	if period, conf, ok := Detect(d.history, d.cfg); ok && conf >= d.cfg.MinConfidence {
		res.Detected, res.Confidence = period, conf
		d.Update(period, conf, at)
	} else {
		d.tempo.Transition = false
	}
	res.Tempo = d.tempo
	res.Alignments = d.align(snap.Touches)
	return res
}

func (d *Detector) trim() {
	n := len(d.history)
	if n == 0 {
		return
	}
	cut := d.history[n-1] - d.cfg.History
	i, _ := slices.BinarySearch(d.history, cut)
	if over := n - d.cfg.MaxHistory; d.cfg.MaxHistory > 0 && over > i {
		i = over
	}
	if i > 0 {
		d.history = slices.Delete(d.history, 0, i)
	}
	for ref, t := range d.lastTouch {
		if t < cut {
			delete(d.lastTouch, ref)
		}
	}
}

// Update smooths a detected period into the tempo. The first detection is
// taken as is; later ones move the tempo by at most MaxBPMRate per second
// of stream time since the previous update. A detection further than
// JumpBPM from the current tempo flags a transition.
func (d *Detector) Update(detected time.Duration, confidence float64, at time.Duration) ir.Tempo {
	if detected <= 0 {
		return d.tempo
	}
	if !d.tempo.Known() {
		d.tempo = ir.Tempo{Period: detected, BPM: ir.BPMFromPeriod(detected), Confidence: confidence}
		d.updated = at
		return d.tempo
	}

	s := d.cfg.Smoothing
	old := d.tempo
	target := time.Duration((1-s)*float64(old.Period) + s*float64(detected))
	bpm := ir.BPMFromPeriod(target)

	limit := d.cfg.MaxBPMRate * max(0, (at - d.updated).Seconds())
	bpm = math.Max(old.BPM-limit, math.Min(old.BPM+limit, bpm))

	d.tempo = ir.Tempo{
		Period:     ir.PeriodFromBPM(bpm),
		BPM:        bpm,
		Confidence: (1-s)*old.Confidence + s*confidence,
		Transition: math.Abs(ir.BPMFromPeriod(detected)-old.BPM) > d.cfg.JumpBPM,
	}
	d.updated = max(d.updated, at)
	return d.tempo
}

// align computes the mean alignment of every edge touched after the last
// processed touch. An edge seen before uses its recurrence interval as
// phase; a first sighting uses the gap between its endpoints.
func (d *Detector) align(touches []graph.Touch) []Alignment {
	period := d.tempo.Period
	type acc struct {
		phase time.Duration
		sum   float64
		n     int
	}
	sums := make(map[graph.EdgeRef]*acc)
	mark := d.touchMark
	for _, tc := range touches {
		if tc.At <= d.touchMark {
			continue
		}
		mark = max(mark, tc.At)
		ref := graph.EdgeRef{From: tc.From, To: tc.To, Kind: tc.Kind}
		interval := tc.Gap
		if prev, ok := d.lastTouch[ref]; ok && tc.At > prev {
			interval = tc.At - prev
		}
		d.lastTouch[ref] = tc.At
		if period <= 0 {
			continue
		}
		phase := interval % period
		a := sums[ref]
		if a == nil {
			a = &acc{}
			sums[ref] = a
		}
		a.phase = phase
		a.sum += PhaseScore(phase, period)
		a.n++
	}
	d.touchMark = mark

	out := make([]Alignment, 0, len(sums))
	for ref, a := range sums {
		out = append(out, Alignment{EdgeRef: ref, Phase: a.phase, Score: a.sum / float64(a.n)})
	}
	slices.SortFunc(out, func(a, b Alignment) int {
		if c := strings.Compare(a.From, b.From); c != 0 {
			return c
		}
		if c := strings.Compare(a.To, b.To); c != 0 {
			return c
		}
		return cmp.Compare(a.Kind, b.Kind)
	})
	return out
}

// PhaseScore returns cos(2*pi*phase/period): near +-1 on the beat, near 0
// off it.
func PhaseScore(phase, period time.Duration) float64 {
	if period <= 0 {
		return 0
	}
	return math.Cos(2 * math.Pi * float64(phase) / float64(period))
}
