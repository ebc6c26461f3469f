package state

import (
	"errors"
	"fmt"
	"sort"

	"earnescrow/storage"
)

type dirtyValue struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    dirtyValue
	hadPrev bool
}

// Overlay buffers writes on top of a Database. Writes become visible to reads
// through the overlay immediately but only reach the backing store on Commit.
// Snapshot and RevertToSnapshot unwind writes made after the snapshot was
// taken, which lets a multi-step operation fail late without leaving partial
// state behind.
type Overlay struct {
	db      storage.Database
	dirty   map[string]dirtyValue
	journal []journalEntry
}

// NewOverlay wraps the supplied database.
func NewOverlay(db storage.Database) *Overlay {
	return &Overlay{db: db, dirty: make(map[string]dirtyValue)}
}

// Get returns the value for key, or nil when absent.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	if entry, ok := o.dirty[string(key)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return append([]byte(nil), entry.value...), nil
	}
	value, err := o.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stages a write.
func (o *Overlay) Put(key, value []byte) {
	o.record(string(key))
	o.dirty[string(key)] = dirtyValue{value: append([]byte(nil), value...)}
}

// Delete stages a removal.
func (o *Overlay) Delete(key []byte) {
	o.record(string(key))
	o.dirty[string(key)] = dirtyValue{deleted: true}
}

func (o *Overlay) record(key string) {
	prev, ok := o.dirty[key]
	o.journal = append(o.journal, journalEntry{key: key, prev: prev, hadPrev: ok})
}

// Snapshot returns an identifier for the current journal position.
func (o *Overlay) Snapshot() int { return len(o.journal) }

// RevertToSnapshot undoes every staged write made after the snapshot.
func (o *Overlay) RevertToSnapshot(id int) {
	if id < 0 || id > len(o.journal) {
		panic(fmt.Sprintf("state: invalid snapshot id %d (journal length %d)", id, len(o.journal)))
	}
	for i := len(o.journal) - 1; i >= id; i-- {
		entry := o.journal[i]
		if entry.hadPrev {
			o.dirty[entry.key] = entry.prev
		} else {
			delete(o.dirty, entry.key)
		}
	}
	o.journal = o.journal[:id]
}


// Commit writes every staged change to the backing store in one batch and
// clears the journal. When the batch fails the staged changes are kept so the
// caller can decide whether to discard them.
func (o *Overlay) Commit() error {
	if len(o.dirty) == 0 {
		o.journal = o.journal[:0]
		return nil
	}
	keys := make([]string, 0, len(o.dirty))
	for key := range o.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := o.db.NewBatch()
	for _, key := range keys {
		entry := o.dirty[key]
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	o.dirty = make(map[string]dirtyValue)
	o.journal = o.journal[:0]
	return nil
}

// Discard drops every staged change.
func (o *Overlay) Discard() {
	o.dirty = make(map[string]dirtyValue)
	o.journal = o.journal[:0]
}
