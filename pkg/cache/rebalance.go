package cache

import (
	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"github.com/neuralforge/forgecache/pkg/store"
)

// migrationConcurrency bounds how many entries a single rebalance pushes to
// peers at once.
const migrationConcurrency = 4

// rebalance runs after every join. Each memory-tier entry is routed against
// the new membership; when its shard sits below the mean target load (total
// advertised capacity over node count), the entry is forwarded to that peer
// and removed locally only once the peer confirmed the write.
//
// Migration is not transactional: a crash between the confirmed remote write
// and the local delete duplicates the entry. The durable tier is never
// touched — its files stay on this node regardless of where the key now routes.
func (c *Cache) rebalance() {
	nodes := c.nodes.Snapshot()
	if len(nodes) == 0 {
		return
	}
	target := c.nodes.TotalCapacity() / int64(len(nodes))

	var g errgroup.Group
	g.SetLimit(migrationConcurrency)

	migrated := 0
	for key, blob := range c.memory.Snapshot() {
		key, blob := key, blob
		shard, ok := c.router.Route(key, nodes)
		if !ok || (shard.Host == c.host && shard.Port == c.port) {
			continue
		}
		if shard.CurrentLoad >= target {
			continue
		}

		migrated++
		g.Go(func() error {
			value, err := store.Decompress(blob)
			if err != nil {
				log.WithError(err).WithField("key", key).Error("corrupt entry, not migrating")
				c.metrics.MigrationsTotal.WithLabelValues("failed").Inc()
				return nil
			}

			if err := c.peers.Set(shard.Addr(), key, value, 0); err != nil {
				log.WithError(err).WithField("peer", shard.Addr()).WithField("key", key).Warn("migration")
				c.metrics.MigrationsTotal.WithLabelValues("failed").Inc()
				return nil
			}

			c.memory.Delete(key)
			c.nodes.Touch(shard.ID())
			c.metrics.MigrationsTotal.WithLabelValues("moved").Inc()
			return nil
		})
	}

	g.Wait()
	c.updateMemoryGauges()

	if migrated > 0 {
		log.WithField("candidates", migrated).Debug("rebalance pass finished")
	}
}
