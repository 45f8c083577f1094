// Package community clusters the relation graph into communities of event
// types that tend to occur together.
//
// Each run starts from the previous membership and greedily moves recently
// active nodes into the neighboring community with the best gain in
// decayed modularity, where an edge of weight w last seen t seconds ago
// contributes w*exp(-lambda*t). Every few runs sparse communities are cut
// in two along their minimum cut and undersized ones are merged into their
// strongest neighbor. Membership similarity between runs yields the
// stability of each community; those stable long enough are reported as
// behavioral archetypes.
package community
