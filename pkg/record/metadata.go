package record

import (
	"sync"

	"github.com/bobboyms/storage-engine/pkg/engineid"
	"github.com/bobboyms/storage-engine/pkg/pregion"
	"github.com/bobboyms/storage-engine/pkg/xerrors"
)

// Metadata is the engine's table registry, matching the role
// pkg/storage/table.go's TableMetaData plays in the teacher (a name ->
// *Table map behind a mutex), rebuilt here against Table's actual
// usage pattern rather than table.go's mismatched definition.
type Metadata struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewMetadata returns an empty table registry.
func NewMetadata() *Metadata {
	return &Metadata{tables: make(map[string]*Table)}
}

// CreateTable registers a new table. Fails if name is already taken.
func (m *Metadata) CreateTable(name string, schema *Schema, region *pregion.Region, bucketCount int) (*Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tables[name]; exists {
		return nil, xerrors.Wrap(xerrors.KindIndexErr, xerrors.IndexErr, "record: table "+name+" already exists")
	}
	t := NewTable(name, schema, region, bucketCount)
	m.tables[name] = t
	return t, nil
}

// GetTable returns the named table.
func (m *Metadata) GetTable(name string) (*Table, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	return t, ok
}

// FindByID locates the table and row holding id, scanning every registered
// table's id index. Recovery uses this to route a DATA record (which only
// carries an ObjectId, not a table name) to its owning table; once a row
// has been seen by any table (via Push/PushRaw/ReplayInstall) it stays
// discoverable here for the lifetime of the process.
func (m *Metadata) FindByID(id engineid.ObjectID) (*Table, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tables {
		if _, ok := t.Lookup(id); ok {
			return t, true
		}
	}
	return nil, false
}

// Tables returns every registered table, for recovery's full scan.
func (m *Metadata) Tables() []*Table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Table, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t)
	}
	return out
}
