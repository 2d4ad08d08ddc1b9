package redis

import (
	"dispatch/internal/presence"
	"dispatch/internal/spatial"
)

// Ensure the concrete store satisfies both consumers: the presence registry's
// write-through mirror and the spatial engine's geo index.
var (
	_ presence.Mirror     = (*LocationStore)(nil)
	_ spatial.GeoSearcher = (*LocationStore)(nil)
)
