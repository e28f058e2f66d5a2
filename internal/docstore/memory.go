package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	doc Document
	seq uint64
}

// MemoryStore keeps documents in process memory. It backs tests and
// single-process development runs without Postgres.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*memoryEntry
	seq  uint64
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*memoryEntry), now: time.Now}
}

func (m *MemoryStore) Get(ctx context.Context, path Path) (*Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.docs[path.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(&entry.doc), nil
}

func (m *MemoryStore) List(ctx context.Context, collection Path) ([]*Document, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	prefix := collection.String() + "/"

	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []*memoryEntry
	for key, entry := range m.docs {
		if strings.HasPrefix(key, prefix) && !strings.Contains(key[len(prefix):], "/") {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]*Document, len(entries))
	for i, entry := range entries {
		out[i] = cloneDocument(&entry.doc)
	}
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, path Path, data any, expectedVersion int64) (*Document, error) {
	docs, err := m.Batch(ctx, []Write{{Path: path, Op: OpSet, Data: data, ExpectedVersion: expectedVersion}})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

func (m *MemoryStore) Merge(ctx context.Context, path Path, fields map[string]any, expectedVersion int64) (*Document, error) {
	docs, err := m.Batch(ctx, []Write{{Path: path, Op: OpMerge, Data: fields, ExpectedVersion: expectedVersion}})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

func (m *MemoryStore) Update(ctx context.Context, path Path, fn MutateFunc) (*Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := path.String()
	var current json.RawMessage
	if entry, ok := m.docs[key]; ok {
		current = append(json.RawMessage(nil), entry.doc.Data...)
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	raw, err := encode(next)
	if err != nil {
		return nil, err
	}
	return cloneDocument(m.putLocked(key, raw)), nil
}

func (m *MemoryStore) Delete(ctx context.Context, path Path, expectedVersion int64) error {
	_, err := m.Batch(ctx, []Write{{Path: path, Op: OpDelete, ExpectedVersion: expectedVersion}})
	return err
}

func (m *MemoryStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key := range m.docs {
		if strings.HasPrefix(key, prefix) {
			delete(m.docs, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Sweep(ctx context.Context, module, collection string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, entry := range m.docs {
		p, err := Parse(key)
		if err != nil || p.Module != module || p.Collection != collection || p.ItemID == "" {
			continue
		}
		if entry.doc.UpdatedAt.Before(before) {
			delete(m.docs, key)
			n++
		}
	}
	return n, nil
}

// Batch validates every write against a snapshot before applying any.
func (m *MemoryStore) Batch(ctx context.Context, writes []Write) ([]*Document, error) {
	for _, w := range writes {
		if err := w.Path.Validate(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// staged holds the would-be state so later writes in the batch see earlier ones.
	staged := make(map[string]*Document)
	lookup := func(key string) *Document {
		if doc, ok := staged[key]; ok {
			return doc
		}
		if entry, ok := m.docs[key]; ok {
			return &entry.doc
		}
		return nil
	}

	type planned struct {
		key string
		raw json.RawMessage
		del bool
	}
	plan := make([]planned, 0, len(writes))

	for _, w := range writes {
		key := w.Path.String()
		current := lookup(key)
		if err := checkVersion(key, current, w.ExpectedVersion); err != nil {
			return nil, err
		}

		switch w.Op {
		case OpDelete:
			if current == nil {
				return nil, ErrNotFound
			}
			staged[key] = nil
			plan = append(plan, planned{key: key, del: true})
		default:
			var raw json.RawMessage
			var err error
			if w.Op == OpMerge {
				var base json.RawMessage
				if current != nil {
					base = current.Data
				}
				fields, _ := w.Data.(map[string]any)
				raw, err = MergeFields(base, fields)
			} else {
				raw, err = encode(w.Data)
			}
			if err != nil {
				return nil, err
			}
			version := int64(1)
			if current != nil {
				version = current.Version + 1
			}
			staged[key] = &Document{Path: key, Version: version, Data: raw}
			plan = append(plan, planned{key: key, raw: raw})
		}
	}

	out := make([]*Document, 0, len(plan))
	for _, p := range plan {
		if p.del {
			delete(m.docs, p.key)
			out = append(out, &Document{Path: p.key})
			continue
		}
		out = append(out, cloneDocument(m.putLocked(p.key, p.raw)))
	}
	return out, nil
}

func (m *MemoryStore) putLocked(key string, raw json.RawMessage) *Document {
	now := m.now().UTC()
	entry, ok := m.docs[key]
	if !ok {
		m.seq++
		entry = &memoryEntry{seq: m.seq, doc: Document{Path: key, CreatedAt: now}}
		m.docs[key] = entry
	}
	entry.doc.Version++
	entry.doc.Data = append(json.RawMessage(nil), raw...)
	entry.doc.UpdatedAt = now
	return &entry.doc
}

func cloneDocument(d *Document) *Document {
	c := *d
	c.Data = append(json.RawMessage(nil), d.Data...)
	return &c
}
