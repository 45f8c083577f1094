package engine

import (
	"slices"
	"sync"

	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/motif"
	"github.com/roach88/eresion/internal/stability"
)

// promote moves a stable motif's edges into the core tier and confirms the
// promotion with the scorer. Both happen under promoMu, which persistence
// also holds, so a snapshot sees either neither change or both.
//
// A request is deferred when none of the motif's edges survive in the
// graph; the scorer asks again the next time the motif occurs.
// CRITICAL: reactive path only.
func (e *Engine) promote(req stability.PromotionRequest) (stability.Transition, bool) {
	entry, ok := e.registry.Get(req.MotifID)
	if !ok || !entry.Motif.State.CanTransition(ir.StatePromoted) {
		return stability.Transition{}, false
	}
	refs := shapeRefs(req.Shape)

	e.promoMu.Lock()
	defer e.promoMu.Unlock()

	if !e.present(refs) {
		e.log.Debug("promotion deferred: motif edges pruned",
			"motif", shortID(req.MotifID),
			"session", req.Session)
		return stability.Transition{}, false
	}
	moved := e.graph.Promote(refs)
	tr, err := e.scorer.ConfirmPromotion(req.MotifID, req.Window)
	if err != nil {
		e.log.Debug("promotion not confirmed",
			"motif", shortID(req.MotifID),
			"error", err)
		return stability.Transition{}, false
	}
	e.view.Store(e.graph.View(e.last))
	e.counters.promotions.Add(1)

	e.log.Info("motif promoted",
		"motif", shortID(req.MotifID),
		"labels", tr.Motif.Labels,
		"session", req.Session,
		"edges_moved", moved)
	return tr, true
}

// shapeRefs names the graph edges a motif shape consists of.
func shapeRefs(s motif.Shape) []graph.EdgeRef {
	refs := make([]graph.EdgeRef, 0, len(s.Edges))
	for _, me := range s.Edges {
		ref := graph.EdgeRef{From: s.Labels[me.From], To: s.Labels[me.To], Kind: me.Kind}
		if !slices.Contains(refs, ref) {
			refs = append(refs, ref)
		}
	}
	return refs
}

// present reports whether any referenced edge is live.
func (e *Engine) present(refs []graph.EdgeRef) bool {
	for _, ref := range refs {
		a, ok := e.graph.Lookup(ref.From)
		if !ok {
			continue
		}
		b, ok := e.graph.Lookup(ref.To)
		if !ok {
			continue
		}
		if _, ok := e.graph.EdgeBetween(a, b, ref.Kind); ok {
			return true
		}
	}
	return false
}

type subscriber struct {
	id int
	fn func(ir.MotifEvent)
}

// subscribers delivers motif events in subscription order.
type subscribers struct {
	mu   sync.RWMutex
	next int
	list []subscriber
}

// Subscribe registers fn for every motif state change and returns a func
// that removes it. Callbacks run synchronously on the goroutine that made
// the change (the dispatcher, or the reactive path for promotions) and
// must not block or call back into the engine's reactive path.
func (e *Engine) Subscribe(fn func(ir.MotifEvent)) (unsubscribe func()) {
	e.subs.mu.Lock()
	defer e.subs.mu.Unlock()
	e.subs.next++
	id := e.subs.next
	e.subs.list = append(e.subs.list, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subs.mu.Lock()
			defer e.subs.mu.Unlock()
			e.subs.list = slices.DeleteFunc(e.subs.list, func(s subscriber) bool { return s.id == id })
		})
	}
}

// publish counts a transition and delivers it to subscribers. A panicking
// subscriber is logged and skipped.
func (e *Engine) publish(tr stability.Transition) {
	motifTransitions.WithLabelValues(tr.To.String()).Inc()
	e.counters.transitions.Add(1)
	ev := tr.Event()

	e.log.Debug("motif transition",
		"motif", shortID(tr.MotifID),
		"from", tr.From,
		"to", tr.To,
		"stability", tr.Motif.Stability,
		"window_end", tr.Window.End)

	e.subs.mu.RLock()
	list := slices.Clone(e.subs.list)
	e.subs.mu.RUnlock()

	for _, s := range list {
		e.deliver(s, ev)
	}
}

func (e *Engine) deliver(s subscriber, ev ir.MotifEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("subscriber panicked",
				"subscriber", s.id,
				"motif", shortID(ev.MotifID),
				"panic", r)
		}
	}()
	s.fn(ev)
}

func shortID(sig string) string {
	if len(sig) > 12 {
		return sig[:12]
	}
	return sig
}
