// Package cache composes forgecache's tiers into the public caching facade.
//
// A Cache owns three lookup tiers consulted in fixed order: the in-memory
// tier, the durable on-disk tier, and finally the peer node the shard router
// assigns the key to. Writes go to every tier best-effort and independently;
// there are no cross-tier transactions. Only a value too large to fit the
// configured capacity at all surfaces an error (CapacityError) — every other
// tier or network failure is logged and degraded around.
//
// The Cache is an explicit object: construct one with New and hand it to the
// protocol server and anything else that needs it. There is no package-level
// instance.
package cache

import (
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/neuralforge/forgecache/pkg/client"
	"github.com/neuralforge/forgecache/pkg/cluster"
	"github.com/neuralforge/forgecache/pkg/config"
	"github.com/neuralforge/forgecache/pkg/metrics"
	"github.com/neuralforge/forgecache/pkg/router"
	"github.com/neuralforge/forgecache/pkg/store"
)

// Cache is one node's view of the distributed cache.
type Cache struct {
	memory   *store.Memory
	disk     *store.Disk
	nodes    *cluster.Directory
	router   router.Router
	peers    *client.Client
	metrics  *metrics.Metrics
	host     string
	capacity int64
	port     int
}

// New builds a Cache from the node configuration, creating the durable tier
// directory if needed.
func New(cfg *config.Config) (*Cache, error) {
	disk, err := store.NewDisk(cfg.CacheDir)
	if err != nil {
		return nil, err
	}

	return &Cache{
		memory: store.NewMemory(cfg.Capacity()),
		disk:   disk,
		nodes:  cluster.NewDirectory(),
		router: router.New(cfg.Router, cfg.VirtualNodes),
		peers: client.New(client.Options{
			DialTimeout:  cfg.DialTimeoutDuration(),
			ReadTimeout:  cfg.ReadTimeoutDuration(),
			WriteTimeout: cfg.WriteTimeoutDuration(),
			Retries:      cfg.Retries,
		}),
		metrics:  metrics.Get(),
		host:     cfg.Host,
		port:     cfg.Port,
		capacity: cfg.Capacity(),
	}, nil
}

// Get looks key up in the memory tier, then the durable tier, then the owning
// peer. A durable-tier hit is not copied back into the memory tier. The bool
// result is false when the key is absent from everything reachable.
func (c *Cache) Get(key string) ([]byte, bool) {
	if blob, ok := c.memory.Get(key); ok {
		value, err := store.Decompress(blob)
		if err == nil {
			c.metrics.TierHitsTotal.WithLabelValues("memory").Inc()
			return value, true
		}
		log.WithError(err).WithField("key", key).Error("corrupt memory tier entry")
	}

	blob, ok, err := c.disk.Get(key)
	if err != nil {
		log.WithError(err).WithField("key", key).Error("durable tier read")
	}
	if ok && err == nil {
		value, err := store.Decompress(blob)
		if err == nil {
			c.metrics.TierHitsTotal.WithLabelValues("disk").Inc()
			return value, true
		}
		log.WithError(err).WithField("key", key).Error("corrupt cache file")
	}

	if shard, ok := c.shardFor(key); ok {
		value, present, err := c.peers.Get(shard.Addr(), key)
		if err != nil {
			log.WithError(err).WithField("peer", shard.Addr()).Warn("remote tier read")
		} else if present {
			c.nodes.Touch(shard.ID())
			c.metrics.TierHitsTotal.WithLabelValues("remote").Inc()
			return value, true
		}
	}

	c.metrics.MissesTotal.Inc()
	return nil, false
}

// Set compresses value and writes it to every tier best-effort: the memory
// tier if the blob fits its remaining space, the durable tier always, and the
// owning peer if one exists. The only propagated failure is a CapacityError
// for a blob larger than the total configured capacity; such a value ends up
// in no tier at all. A ttl of zero means no expiry.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) error {
	blob, err := store.Compress(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	if int64(len(blob)) > c.capacity {
		return &CapacityError{Size: int64(len(blob)), Capacity: c.capacity}
	}

	if !c.memory.Put(key, blob, ttl) {
		log.WithField("key", key).Debug("memory tier full, skipping")
	}
	c.updateMemoryGauges()

	if err := c.disk.Put(key, blob); err != nil {
		log.WithError(err).WithField("key", key).Error("durable tier write")
	}

	if shard, ok := c.shardFor(key); ok {
		if err := c.peers.Set(shard.Addr(), key, value, ttl); err != nil {
			log.WithError(err).WithField("peer", shard.Addr()).Warn("remote tier write")
		} else {
			c.nodes.Touch(shard.ID())
		}
	}

	return nil
}

// Clear empties the local tiers and notifies all known peers to do the same.
// Peer notifications are fire-and-forget.
func (c *Cache) Clear() {
	c.ClearLocal()

	for _, n := range c.nodes.Snapshot() {
		if err := c.peers.Clear(n.Addr()); err != nil {
			log.WithError(err).WithField("peer", n.Addr()).Warn("clear notification")
		}
	}
}

// ClearLocal empties the memory tier and deletes every durable file without
// touching any peer. The protocol server dispatches an inbound clear here:
// fan-out belongs to the node that initiated the clear, so a notification
// received from a peer must never be re-broadcast. With mutual membership a
// re-broadcasting receiver would bounce the same clear between nodes forever.
func (c *Cache) ClearLocal() {
	c.memory.Clear()
	c.updateMemoryGauges()
	c.disk.Clear()
}

// Join registers a peer that announced itself to this node and rebalances
// local entries toward under-loaded peers.
func (c *Cache) Join(n cluster.Node) {
	log.WithField("node", n.ID()).WithField("capacity", n.Capacity).Info("node joined")
	c.nodes.Join(n)
	c.rebalance()
}

// JoinNetwork advertises this node to a seed peer. The seed records us; we
// learn nothing about the rest of the network in return. The call is bounded
// by the peer client's timeouts and fails rather than hangs on a dead seed.
func (c *Cache) JoinNetwork(seedHost string, seedPort int) error {
	seed := fmt.Sprintf("%s:%d", seedHost, seedPort)
	self := cluster.Node{
		Host:        c.host,
		Port:        c.port,
		Capacity:    c.capacity,
		CurrentLoad: int64(c.memory.Len()),
	}

	if err := c.peers.Join(seed, self); err != nil {
		return fmt.Errorf("join network via %s: %w", seed, err)
	}
	log.WithField("seed", seed).Info("joined cache network")
	return nil
}

// Stats reports the cache's current occupancy and membership.
func (c *Cache) Stats() Stats {
	localSize := c.memory.Size()
	fileSize := c.disk.Size()

	return Stats{
		LocalEntries: c.memory.Len(),
		LocalSize:    localSize,
		FileSize:     fileSize,
		Nodes:        c.nodes.Len(),
		Capacity:     c.capacity,
		Utilization:  float64(localSize+fileSize) / float64(c.capacity) * 100,
	}
}

// shardFor routes key against the current membership snapshot, filtering out
// a shard that happens to be this node itself.
func (c *Cache) shardFor(key string) (cluster.Node, bool) {
	shard, ok := c.router.Route(key, c.nodes.Snapshot())
	if !ok {
		return cluster.Node{}, false
	}
	if shard.Host == c.host && shard.Port == c.port {
		return cluster.Node{}, false
	}
	return shard, true
}

func (c *Cache) updateMemoryGauges() {
	c.metrics.MemoryEntries.Set(float64(c.memory.Len()))
	c.metrics.MemoryBytes.Set(float64(c.memory.Size()))
}
