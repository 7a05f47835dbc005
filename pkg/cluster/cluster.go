// Package cluster tracks the membership of a forgecache network: the set of
// peer nodes a cache instance has learned about through join requests.
//
// Membership is deliberately minimal. Nodes are added or overwritten by join
// and never removed: there is no leave path, no failure detector and no gossip,
// so a node that dies simply stays in the table with a stale LastSeen. Peers
// learn about each other only through direct joins.
package cluster

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Node is one peer cache in the network. Identity is host:port.
type Node struct {
	LastSeen    time.Time
	Host        string
	Capacity    int64
	CurrentLoad int64
	Port        int
}

// ID returns the node identity, which doubles as its dial address.
func (n Node) ID() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// Addr is an alias for ID; both are host:port.
func (n Node) Addr() string {
	return n.ID()
}

// Directory is the node-id to Node table. It has its own lock, independent of
// the data-tier locks, so membership churn never serializes against cache I/O.
type Directory struct {
	nodes map[string]Node
	mu    sync.RWMutex
}

// NewDirectory returns an empty membership table.
func NewDirectory() *Directory {
	return &Directory{nodes: make(map[string]Node)}
}

// Join inserts or overwrites a node, stamping LastSeen. Rejoining with new
// capacity or load figures is how a node's advertised state gets refreshed.
func (d *Directory) Join(n Node) {
	n.LastSeen = time.Now()

	d.mu.Lock()
	d.nodes[n.ID()] = n
	d.mu.Unlock()
}

// Touch refreshes LastSeen for a node we just interacted with. Unknown ids
// are ignored.
func (d *Directory) Touch(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes[id]
	if !ok {
		return
	}
	n.LastSeen = time.Now()
	d.nodes[id] = n
}

// Snapshot returns the current membership sorted by id. Routing decisions are
// made against a snapshot so they stay deterministic while the table mutates.
func (d *Directory) Snapshot() []Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of known nodes.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

// TotalCapacity sums the advertised capacity across all known nodes.
func (d *Directory) TotalCapacity() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var total int64
	for _, n := range d.nodes {
		total += n.Capacity
	}
	return total
}
