package catalog

import "sync/atomic"

// Loader produces a SchemaCatalog from whatever source it was built
// against. CSVLoader is the only implementation shipped; the interface
// exists so a future front end (e.g. a Mermaid-ER parser) could be
// added without the rest of the system knowing which one is in use —
// see SPEC_FULL.md §4.1.1 for why a second implementation does not
// ship today.
type Loader interface {
	Load() (*SchemaCatalog, error)
}

// CSVLoader loads a catalog from the three tabular sources in §6.
type CSVLoader struct {
	TablesPath, ColumnsPath, JoinEdgesPath string
}

func (l CSVLoader) Load() (*SchemaCatalog, error) {
	return LoadCSV(l.TablesPath, l.ColumnsPath, l.JoinEdgesPath)
}

// Handle is an atomically-swappable reference to the published
// catalog. Reads never block on a concurrent rebuild: Get returns
// whatever was last published, and in-flight requests that already
// hold a *SchemaCatalog continue to use it even after a swap, since
// the catalog itself is never mutated in place.
type Handle struct {
	v atomic.Pointer[SchemaCatalog]
}

// NewHandle publishes an initial catalog.
func NewHandle(c *SchemaCatalog) *Handle {
	h := &Handle{}
	h.v.Store(c)
	return h
}

// Get returns the currently published catalog.
func (h *Handle) Get() *SchemaCatalog { return h.v.Load() }

// Replace atomically swaps in a newly rebuilt catalog.
func (h *Handle) Replace(c *SchemaCatalog) { h.v.Store(c) }
