package cache

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// CapacityError reports a value whose compressed size exceeds the cache's
// total configured capacity. It is the one failure Set propagates: every other
// tier failure degrades silently, but an oversized value can never be stored
// anywhere and the caller has to know.
type CapacityError struct {
	Size     int64
	Capacity int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("compressed value (%s) exceeds cache capacity (%s)",
		humanize.Bytes(uint64(e.Size)), humanize.Bytes(uint64(e.Capacity)))
}
