package cache

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Stats is a point-in-time summary of one node's cache occupancy.
// Utilization is the combined memory and durable tier usage as a percentage
// of the configured capacity.
type Stats struct {
	LocalEntries int
	LocalSize    int64
	FileSize     int64
	Nodes        int
	Capacity     int64
	Utilization  float64
}

func (s Stats) String() string {
	return fmt.Sprintf("entries=%d memory=%s disk=%s nodes=%d capacity=%s utilization=%.1f%%",
		s.LocalEntries,
		humanize.Bytes(uint64(s.LocalSize)),
		humanize.Bytes(uint64(s.FileSize)),
		s.Nodes,
		humanize.Bytes(uint64(s.Capacity)),
		s.Utilization)
}
