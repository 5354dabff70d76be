package collab

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/arclight-io/conveyor/internal/executors"
	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// EntityStore is the slice of the persistence layer the entity service
// needs. Satisfied by store.Store.
type EntityStore interface {
	CreateEntity(ctx context.Context, e *store.Entity) error
	UpdateEntity(ctx context.Context, orgID, kind, id string, data json.RawMessage) (*store.Entity, error)
}

// StoreEntityService backs the executors' EntityService with the
// org-scoped entity tables.
type StoreEntityService struct {
	store EntityStore
}

// NewStoreEntityService creates a StoreEntityService.
func NewStoreEntityService(st EntityStore) *StoreEntityService {
	return &StoreEntityService{store: st}
}

// Create inserts a new record of the given kind and returns it.
func (s *StoreEntityService) Create(ctx context.Context, orgID, kind string, data map[string]any) (*executors.EntityRecord, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "marshal %s data: %s", kind, err.Error()).WithCause(err)
	}

	now := time.Now().UTC()
	entity := &store.Entity{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Kind:      kind,
		Data:      raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateEntity(ctx, entity); err != nil {
		return nil, err
	}

	return &executors.EntityRecord{ID: entity.ID, Kind: kind, Data: raw}, nil
}

// Update merges fields into an existing record and returns the merged state.
func (s *StoreEntityService) Update(ctx context.Context, orgID, kind, id string, data map[string]any) (*executors.EntityRecord, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "marshal %s data: %s", kind, err.Error()).WithCause(err)
	}

	entity, err := s.store.UpdateEntity(ctx, orgID, kind, id, raw)
	if err != nil {
		return nil, err
	}
	return &executors.EntityRecord{ID: entity.ID, Kind: entity.Kind, Data: entity.Data}, nil
}
