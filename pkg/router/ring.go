package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/neuralforge/forgecache/pkg/cluster"
)

// DefaultVirtualNodes is the number of ring positions per physical node.
// More positions give a smoother distribution at the cost of memory.
const DefaultVirtualNodes = 150

// Ring is a consistent-hash router with virtual nodes. Each physical node is
// placed at virtualNodes positions on a 32-bit ring; a key is owned by the
// first node clockwise from its hash. Membership changes only remap the keys
// adjacent to the affected positions.
//
// The ring is rebuilt lazily whenever the snapshot's node set differs from the
// one it was last built for, so Route stays a pure function of (key, node set).
type Ring struct {
	ring         map[uint32]string
	nodes        map[string]cluster.Node
	sortedHashes []uint32
	signature    string
	virtualNodes int
	mu           sync.Mutex
}

// NewRing creates a ring router with the given virtual node count,
// falling back to DefaultVirtualNodes for values <= 0.
func NewRing(virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Ring{virtualNodes: virtualNodes}
}

// Route implements Router.
func (r *Ring) Route(key string, nodes []cluster.Node) (cluster.Node, bool) {
	if len(nodes) == 0 {
		return cluster.Node{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.rebuild(nodes)

	hash := ringHash(key)
	idx := sort.Search(len(r.sortedHashes), func(i int) bool {
		return r.sortedHashes[i] >= hash
	})
	if idx == len(r.sortedHashes) {
		idx = 0
	}
	return r.nodes[r.ring[r.sortedHashes[idx]]], true
}

// rebuild repopulates the ring if the node set changed. Expects r.mu held.
func (r *Ring) rebuild(nodes []cluster.Node) {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	sort.Strings(ids)
	signature := strings.Join(ids, ",")

	if signature == r.signature {
		// Same membership; refresh node records (loads may have moved) only.
		for _, n := range nodes {
			r.nodes[n.ID()] = n
		}
		return
	}

	r.signature = signature
	r.ring = make(map[uint32]string, len(nodes)*r.virtualNodes)
	r.nodes = make(map[string]cluster.Node, len(nodes))
	r.sortedHashes = r.sortedHashes[:0]

	for _, n := range nodes {
		id := n.ID()
		r.nodes[id] = n
		for i := 0; i < r.virtualNodes; i++ {
			hash := ringHash(fmt.Sprintf("%s#%d", id, i))
			r.ring[hash] = id
			r.sortedHashes = append(r.sortedHashes, hash)
		}
	}
	sort.Slice(r.sortedHashes, func(i, j int) bool {
		return r.sortedHashes[i] < r.sortedHashes[j]
	})
}

func ringHash(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}
