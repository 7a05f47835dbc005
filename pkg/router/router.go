// Package router decides which peer node owns a key, given a membership
// snapshot.
//
// Two strategies are provided. The default Load strategy sorts nodes by their
// advertised load and picks by key hash modulo node count: deterministic for a
// fixed snapshot, but a change in any node's load can re-route a key even when
// membership is unchanged, and adding a node remaps most keys. The Ring
// strategy is classic consistent hashing with virtual nodes, which keeps
// remapping minimal on membership change at the cost of ignoring load.
package router

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/neuralforge/forgecache/pkg/cluster"
)

// Strategy names accepted by New.
const (
	StrategyLoad = "load"
	StrategyRing = "ring"
)

// Router picks the owning node for a key out of a membership snapshot.
// With no known peers there is no shard and the second result is false.
type Router interface {
	Route(key string, nodes []cluster.Node) (cluster.Node, bool)
}

// New returns the router for the named strategy, defaulting to load-sorted
// modulo selection for unrecognized names.
func New(strategy string, virtualNodes int) Router {
	if strategy == StrategyRing {
		return NewRing(virtualNodes)
	}
	return Load{}
}

// Load routes by hashing the key modulo the node count, over nodes sorted by
// ascending current load (ties broken by id, so a fixed snapshot always yields
// the same pick). This is not consistent hashing: the mapping is only stable
// as long as the snapshot, loads included, is.
type Load struct{}

// Route implements Router.
func (Load) Route(key string, nodes []cluster.Node) (cluster.Node, bool) {
	if len(nodes) == 0 {
		return cluster.Node{}, false
	}

	sorted := make([]cluster.Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CurrentLoad != sorted[j].CurrentLoad {
			return sorted[i].CurrentLoad < sorted[j].CurrentLoad
		}
		return sorted[i].ID() < sorted[j].ID()
	})

	idx := xxhash.Sum64String(key) % uint64(len(sorted))
	return sorted[idx], true
}
