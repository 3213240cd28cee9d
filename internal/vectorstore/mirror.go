package vectorstore

import "context"

// MemoryMirror adapts a Store to the knowledge service's mirror hook so
// saved memories become searchable semantically.
type MemoryMirror struct {
	store Store
}

// NewMemoryMirror wraps a store.
func NewMemoryMirror(store Store) *MemoryMirror {
	return &MemoryMirror{store: store}
}

func (m *MemoryMirror) AddMemory(ctx context.Context, docID, content string, metadata map[string]string) error {
	return m.store.AddDocuments(ctx, []Document{{
		ID:       docID,
		Content:  content,
		Metadata: metadata,
	}})
}

func (m *MemoryMirror) RemoveMemory(ctx context.Context, docID string) error {
	return m.store.Delete(ctx, docID)
}
