package store

import (
	"context"
	"database/sql"
	"encoding/json"
)

// CreateEntity inserts a new org-scoped business record.
func (s *LibSQLStore) CreateEntity(ctx context.Context, e *Entity) error {
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (id, organization_id, kind, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.OrgID, e.Kind, string(data), timeOrNow(e.CreatedAt), timeOrNow(e.UpdatedAt),
	)
	return err
}

// GetEntity fetches a record by org, kind, and id.
func (s *LibSQLStore) GetEntity(ctx context.Context, orgID, kind, id string) (*Entity, error) {
	e := &Entity{}
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, kind, data, created_at, updated_at
		 FROM entities WHERE organization_id = ? AND kind = ? AND id = ?`,
		orgID, kind, id,
	).Scan(&e.ID, &e.OrgID, &e.Kind, &data, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound(kind, id)
	}
	if err != nil {
		return nil, err
	}
	e.Data = json.RawMessage(data)
	return e, nil
}

// UpdateEntity merges the given fields into the record's data and returns
// the updated record. Fields not present in data are left untouched.
func (s *LibSQLStore) UpdateEntity(ctx context.Context, orgID, kind, id string, data json.RawMessage) (*Entity, error) {
	e, err := s.GetEntity(ctx, orgID, kind, id)
	if err != nil {
		return nil, err
	}

	var current, patch map[string]any
	if err := json.Unmarshal(e.Data, &current); err != nil {
		current = map[string]any{}
	}
	if err := json.Unmarshal(data, &patch); err != nil {
		return nil, err
	}
	for k, v := range patch {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET data = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE organization_id = ? AND kind = ? AND id = ?`,
		string(merged), orgID, kind, id,
	)
	if err != nil {
		return nil, err
	}
	if err := checkRowsAffected(res, kind, id); err != nil {
		return nil, err
	}
	return s.GetEntity(ctx, orgID, kind, id)
}
