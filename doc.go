// Package forgecache is a distributed, multi-tier cache.
//
// Each node layers three tiers behind one facade: a byte-capacity bounded
// in-memory map, a durable one-file-per-key directory, and a network of peer
// nodes reached over a length-prefixed binary TCP protocol. Lookups walk the
// tiers in that fixed order; writes land in every tier best-effort, with no
// cross-tier transactions. Peers address each other through a shard router —
// load-sorted modulo hashing by default, ring-based consistent hashing with
// virtual nodes as an alternative.
//
// Consistency is explicitly best-effort: tier and network failures are logged
// and degraded around rather than propagated, membership only ever grows, and
// a get racing a remotely-routed set may miss the write. The one hard error
// the facade raises is a value whose compressed size exceeds the configured
// capacity.
//
// # Components
//
//   - pkg/cache: the facade (Get, Set, Clear, JoinNetwork, Stats) and rebalancer
//   - pkg/store: memory and durable tiers, blob compression
//   - pkg/cluster: membership directory
//   - pkg/router: shard routing strategies
//   - pkg/protocol: framed binary wire protocol
//   - pkg/client: peer client with per-call timeouts and retries
//   - pkg/config: defaults, YAML file, FORGECACHE_* env, flags
//   - pkg/metrics: Prometheus collectors and the /metrics endpoint
//   - internal/server: TCP server with a bounded worker pool
//   - cmd/forgecached: the node daemon
//   - cmd/forgecachectl: control CLI speaking the wire protocol
package forgecache
