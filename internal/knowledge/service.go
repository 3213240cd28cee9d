package knowledge

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Mirror receives copies of saved memories so a semantic index can serve
// them. A nil mirror disables mirroring; mirror failures are logged and
// never fail the write, the relational store stays the source of truth.
type Mirror interface {
	AddMemory(ctx context.Context, docID, content string, metadata map[string]string) error
	RemoveMemory(ctx context.Context, docID string) error
}

// Service is the facade the HTTP layer talks to. It owns the store, fans
// memory writes out to the optional vector mirror, and maps external table
// names onto the typed repositories.
type Service struct {
	store  *Store
	mirror Mirror
	logger *zap.Logger
}

// NewService wraps a store. mirror may be nil.
func NewService(store *Store, mirror Mirror, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, mirror: mirror, logger: logger}
}

// Store exposes the underlying store for read paths that need it directly.
func (svc *Service) Store() *Store {
	return svc.store
}

func (svc *Service) SaveDecision(p DecisionParams) (int64, error) {
	return svc.store.SaveDecision(p)
}

func (svc *Service) SaveLearning(p LearningParams) (int64, bool, error) {
	return svc.store.SaveLearning(p)
}

// SaveMemory persists a memory and mirrors newly created rows into the
// vector index.
func (svc *Service) SaveMemory(ctx context.Context, p MemoryParams) (int64, bool, error) {
	id, created, err := svc.store.SaveMemory(p)
	if err != nil {
		return 0, false, err
	}
	if created && svc.mirror != nil {
		meta := map[string]string{"type": p.Type}
		if p.Category != "" {
			meta["category"] = p.Category
		}
		if err := svc.mirror.AddMemory(ctx, memoryDocID(id), p.Content, meta); err != nil {
			svc.logger.Warn("memory mirror failed", zap.Int64("id", id), zap.Error(err))
		}
	}
	return id, created, nil
}

// DeleteMemory removes a memory from the store and the mirror.
func (svc *Service) DeleteMemory(ctx context.Context, id int64) error {
	if err := svc.store.DeleteMemory(id); err != nil {
		return err
	}
	if svc.mirror != nil {
		if err := svc.mirror.RemoveMemory(ctx, memoryDocID(id)); err != nil {
			svc.logger.Warn("memory mirror delete failed", zap.Int64("id", id), zap.Error(err))
		}
	}
	return nil
}

func (svc *Service) ConfirmKnowledge(table Table, id int64) (float64, error) {
	return svc.store.Confirm(table, id)
}

func (svc *Service) RecordUsage(table Table, id int64, wasUseful bool) (float64, error) {
	return svc.store.RecordUsage(table, id, wasUseful)
}

func (svc *Service) ContradictKnowledge(table Table, id int64, reason string, replacementID *int64) error {
	return svc.store.Contradict(table, id, reason, replacementID)
}

func (svc *Service) SupersedeKnowledge(table Table, id int64, newContent, reason string, extra map[string]string) (int64, error) {
	return svc.store.Supersede(table, id, newContent, reason, extra)
}

func (svc *Service) GetKnowledgeByMaturity(table Table, status Status, minConfidence float64, limit int) ([]Summary, error) {
	return svc.store.GetByMaturity(table, status, minConfidence, limit)
}

func memoryDocID(id int64) string {
	return fmt.Sprintf("memory_%d", id)
}
