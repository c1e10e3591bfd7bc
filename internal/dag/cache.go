package dag

import (
	"sync"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/columns"
)

// Cache memoizes the graph per registry version.
type Cache struct {
	mu      sync.Mutex
	version uint64
	graph   *Graph
}

// Get returns the graph for the snapshot, rebuilding it only when the
// version differs from the cached one.
func (c *Cache) Get(snap columns.Snapshot) *Graph {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph != nil && c.version == snap.Version {
		return c.graph
	}
	c.graph = Build(snap.Columns)
	c.version = snap.Version
	return c.graph
}
