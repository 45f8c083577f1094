package window

import (
	"cmp"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/ir"
)

// Consumer receives closed-window snapshots. Consumers are called
// synchronously on the reactive path and must not block.
type Consumer func(*Snapshot)

type slider struct {
	scale ir.Scale
	base  ScaleConfig
	size  time.Duration
	hop   time.Duration

	// next is the end of the earliest window not yet closed.
	next time.Duration
	open bool

	// A resize waits until the first window that opens after the
	// adaptation, so no window changes size while open.
	pendingSize time.Duration
	pendingFrom time.Duration

	generation uint64
}

func (sl *slider) applyPending() {
	if sl.pendingSize > 0 && sl.next >= sl.pendingFrom {
		sl.size = sl.pendingSize
		sl.pendingSize = 0
	}
}

type sessionLog struct {
	id         string
	started    bool
	start      time.Duration
	events     []ir.Event
	touches    []graph.Touch
	dropped    int
	generation uint64
}

// Manager maintains the sliding windows of every scale and the session
// window, closing them as event time advances.
//
// CRITICAL: not safe for concurrent use; owned by the reactive path.
type Manager struct {
	cfg     Config
	sliders [ir.NumSlidingScales]slider

	// events and touches hold everything still inside an open window,
	// ordered by timestamp.
	events  []ir.Event
	touches []graph.Touch

	session   sessionLog
	consumers [ir.NumSlidingScales + 1][]Consumer

	seq    uint64
	factor float64
	frame  ir.Frame
	last   time.Duration
	seen   bool
}

// NewManager creates a window manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{cfg: cfg, factor: 1}
	for s := range m.sliders {
		sc := cfg.Scales[s]
		hop := sc.Hop
		if hop <= 0 {
			hop = sc.Size
		}
		m.sliders[s] = slider{scale: ir.Scale(s), base: sc, size: sc.Size, hop: hop}
	}
	return m
}

// Register adds a consumer for snapshots of one scale.
func (m *Manager) Register(scale ir.Scale, c Consumer) {
	m.consumers[scale] = append(m.consumers[scale], c)
}

// SetFrame sets the context stamped on subsequently emitted snapshots.
func (m *Manager) SetFrame(f ir.Frame) {
	m.frame = f
}

// Factor returns the current adaptive size factor of micro and meso windows.
func (m *Manager) Factor() float64 {
	return m.factor
}

// Sizes returns the window size currently in effect per sliding scale.
func (m *Manager) Sizes() [ir.NumSlidingScales]time.Duration {
	var out [ir.NumSlidingScales]time.Duration
	for s, sl := range m.sliders {
		out[s] = sl.size
	}
	return out
}

// StartSession begins a new session window. Open sliding windows and
// buffered events are discarded; callers flush the previous session first.
func (m *Manager) StartSession(id string, at time.Duration) {
	m.reset()
	m.session = sessionLog{id: id, started: true, start: at, generation: m.session.generation}
	m.last = at
}

func (m *Manager) reset() {
	for s := range m.sliders {
		m.sliders[s].open = false
	}
	m.events = m.events[:0]
	m.touches = m.touches[:0]
	m.seen = false
}

// Insert records one accepted event and the touches it produced, closing
// every window that ends at or before the event. Closed windows are
// returned in order of end time, then scale, and delivered to consumers.
func (m *Manager) Insert(ev ir.Event, touches []graph.Touch) []*Snapshot {
	if m.seen && ev.Timestamp < m.last {
		ev.Timestamp = m.last
	}
	t := ev.Timestamp

	var closed []*Snapshot
	// Macro first: its closure may schedule a resize that micro and meso
	// windows closing on the same event must observe.
	for s := len(m.sliders) - 1; s >= 0; s-- {
		closed = append(closed, m.advance(&m.sliders[s], t)...)
	}

	m.events = append(m.events, ev)
	m.touches = append(m.touches, touches...)
	m.record(ev, touches)
	m.seen = true
	m.last = t
	for s := range m.sliders {
		sl := &m.sliders[s]
		if !sl.open {
			sl.open = true
			sl.next = alignDown(t, sl.hop) + sl.hop
		}
	}
	m.trim()
	return m.emit(closed)
}

// advance closes the windows of one scale that end at or before t.
func (m *Manager) advance(sl *slider, t time.Duration) []*Snapshot {
	var closed []*Snapshot
	for sl.open && sl.next <= t {
		sl.applyPending()
		start := sl.next - sl.size
		if n := len(m.events); n == 0 || m.events[n-1].Timestamp < start {
			// Every remaining window before t is empty.
			sl.next = alignDown(t, sl.hop) + sl.hop
			sl.applyPending()
			break
		}
		if snap := m.closeNext(sl); snap != nil {
			closed = append(closed, snap)
		}
	}
	return closed
}

// closeNext closes the window ending at sl.next and slides it one hop.
// It returns nil when the window holds no events.
func (m *Manager) closeNext(sl *slider) *Snapshot {
	end := sl.next
	start := end - sl.size
	sl.next += sl.hop

	lo := searchEvents(m.events, start)
	hi := searchEvents(m.events, end)
	if lo == hi {
		return nil
	}
	sl.generation++
	snap := &Snapshot{
		Window:     ir.Window{Scale: sl.scale, Start: start, End: end, Hop: sl.hop},
		Generation: sl.generation,
		Session:    m.session.id,
		Frame:      m.frame,
		Events:     slices.Clone(m.events[lo:hi]),
		Touches:    slices.Clone(m.touches[searchTouches(m.touches, start):searchTouches(m.touches, end)]),
	}
	if sl.scale == ir.ScaleMacro {
		m.adapt(end, snap.Rate())
	}
	return snap
}

// adapt rescales micro and meso windows from the event rate of the macro
// window that closed at tc.
func (m *Manager) adapt(tc time.Duration, rate float64) {
	f := m.factor
	switch {
	case rate > m.cfg.HighRate:
		f *= m.cfg.ShrinkFactor
	case rate < m.cfg.LowRate:
		f *= m.cfg.GrowFactor
	default:
		return
	}
	f = min(max(f, m.cfg.MinFactor), m.cfg.MaxFactor)
	if f == m.factor {
		return
	}
	slog.Debug("window size adapted",
		"rate", rate,
		"factor", f,
		"previous", m.factor)
	m.factor = f
	for _, s := range []ir.Scale{ir.ScaleMicro, ir.ScaleMeso} {
		sl := &m.sliders[s]
		size := max(time.Duration(float64(sl.base.Size)*f), sl.hop)
		sl.pendingSize = size
		sl.pendingFrom = alignDown(tc+size+sl.hop-1, sl.hop)
	}
}

// Flush closes every sliding window whose final hop holds a buffered event,
// then the session window, and ends the session.
func (m *Manager) Flush() []*Snapshot {
	var closed []*Snapshot
	if m.seen {
		for s := len(m.sliders) - 1; s >= 0; s-- {
			sl := &m.sliders[s]
			for sl.open && sl.next-sl.hop <= m.last {
				sl.applyPending()
				if snap := m.closeNext(sl); snap != nil {
					closed = append(closed, snap)
				}
			}
		}
	}
	if len(m.session.events) > 0 {
		m.session.generation++
		closed = append(closed, &Snapshot{
			Window:     ir.Window{Scale: ir.ScaleSession, Start: m.session.start, End: m.last + 1},
			Generation: m.session.generation,
			Session:    m.session.id,
			Frame:      m.frame,
			Events:     m.session.events,
			Touches:    m.session.touches,
			Dropped:    m.session.dropped,
		})
	}
	m.reset()
	m.session = sessionLog{generation: m.session.generation}
	return m.emit(closed)
}

// record appends to the session log, discarding the oldest events once the
// workspace cap is reached.
func (m *Manager) record(ev ir.Event, touches []graph.Touch) {
	s := &m.session
	if !s.started {
		s.started = true
		s.start = ev.Timestamp
	}
	s.events = append(s.events, ev)
	s.touches = append(s.touches, touches...)
	if m.cfg.SessionCap <= 0 || len(s.events) <= m.cfg.SessionCap {
		return
	}
	over := len(s.events) - m.cfg.SessionCap
	cut := s.events[over].Timestamp
	s.events = slices.Delete(s.events, 0, over)
	s.touches = slices.Delete(s.touches, 0, searchTouches(s.touches, cut))
	s.dropped += over
}

// trim drops buffered events that precede every open window.
func (m *Manager) trim() {
	earliest := m.last
	for _, sl := range m.sliders {
		if !sl.open {
			continue
		}
		size := max(sl.size, sl.pendingSize)
		earliest = min(earliest, sl.next-size)
	}
	if n := searchEvents(m.events, earliest); n > 0 {
		m.events = slices.Delete(m.events, 0, n)
	}
	if n := searchTouches(m.touches, earliest); n > 0 {
		m.touches = slices.Delete(m.touches, 0, n)
	}
}

// emit stamps IDs in close order and delivers snapshots to consumers.
func (m *Manager) emit(closed []*Snapshot) []*Snapshot {
	slices.SortStableFunc(closed, func(a, b *Snapshot) int {
		if c := cmp.Compare(closeRank(a), closeRank(b)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Window.End, b.Window.End); c != 0 {
			return c
		}
		return cmp.Compare(a.Window.Scale, b.Window.Scale)
	})
	for _, snap := range closed {
		m.seq++
		snap.ID = m.seq
		for _, c := range m.consumers[snap.Window.Scale] {
			c(snap)
		}
	}
	return closed
}

// closeRank orders the session window after every sliding window.
func closeRank(s *Snapshot) int {
	if s.Window.Scale == ir.ScaleSession {
		return 1
	}
	return 0
}

func searchEvents(events []ir.Event, t time.Duration) int {
	i, _ := slices.BinarySearchFunc(events, t, func(e ir.Event, t time.Duration) int {
		return cmp.Compare(e.Timestamp, t)
	})
	return i
}

func searchTouches(touches []graph.Touch, t time.Duration) int {
	i, _ := slices.BinarySearchFunc(touches, t, func(tc graph.Touch, t time.Duration) int {
		return cmp.Compare(tc.At, t)
	})
	return i
}

// alignDown rounds t down to a multiple of hop, toward negative infinity.
func alignDown(t, hop time.Duration) time.Duration {
	if hop <= 0 {
		return t
	}
	r := t % hop
	if r < 0 {
		r += hop
	}
	return t - r
}
