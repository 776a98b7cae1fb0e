// Package testutil provides in-memory fixtures shared by this module's
// package tests, grounded on the teacher's internal/testutil/memdb.go.
package testutil

import (
	"bytes"
	"sort"
	"sync"

	"github.com/tolelom/delegate/statedriver"
)

// MemDB is an in-memory implementation of statedriver.DB (and anything
// with the same shape) for use in package tests, avoiding a LevelDB
// dependency in unit tests.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemDB creates an empty MemDB.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, statedriver.ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemDB) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *MemDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

type memIterator struct {
	keys []string
	vals [][]byte
	idx  int
}

func (m *MemDB) NewIterator(prefix []byte) statedriver.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = m.data[k]
	}
	return &memIterator{keys: keys, vals: vals, idx: -1}
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.keys)
}
func (it *memIterator) Key() []byte   { return []byte(it.keys[it.idx]) }
func (it *memIterator) Value() []byte { return it.vals[it.idx] }
func (it *memIterator) Release()      {}
func (it *memIterator) Error() error  { return nil }

type memBatch struct {
	db  *MemDB
	ops []func(*MemDB)
}

func (m *MemDB) NewBatch() statedriver.Batch {
	return &memBatch{db: m}
}

func (b *memBatch) Set(key, value []byte) {
	k, v := append([]byte(nil), key...), append([]byte(nil), value...)
	b.ops = append(b.ops, func(db *MemDB) { db.data[string(k)] = v })
}

func (b *memBatch) Delete(key []byte) {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, func(db *MemDB) { delete(db.data, string(k)) })
}

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		op(b.db)
	}
	return nil
}

func (b *memBatch) Reset() { b.ops = nil }

func (m *MemDB) Close() error { return nil }
