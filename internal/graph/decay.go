package graph

import (
	"math"
	"time"

	"github.com/roach88/eresion/internal/ir"
)

// DecayTick applies elapsed stream time of exponential decay to every edge
// and node activation. Session entities decay at SessionLambda per second,
// core entities at CoreLambda per hour. With no reinforcement a positive
// weight strictly decreases on every tick with elapsed > 0.
func (g *Graph) DecayTick(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	session := math.Exp(-g.cfg.SessionLambda * elapsed.Seconds())
	core := math.Exp(-g.cfg.CoreLambda * elapsed.Hours())

	for i := range g.edges {
		e := &g.edges[i]
		if !e.live {
			continue
		}
		f := session
		if e.Tier == ir.TierCore {
			f = core
		}
		e.Weight *= f
		for s := range e.ScaleWeights {
			e.ScaleWeights[s] *= f
		}
	}
	for i := range g.nodes {
		n := &g.nodes[i]
		if !n.live {
			continue
		}
		if n.Tier == ir.TierCore {
			n.Activation *= core
		} else {
			n.Activation *= session
		}
	}
}
