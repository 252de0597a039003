package provision

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SQLStore persists mapping records in the provisions table. Triple
// uniqueness is enforced by a UNIQUE(consumer_id, context_id,
// resource_link_id) constraint in the schema.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const provisionCols = `id, consumer_id, context_id, resource_link_id,
	context_label, context_title, resource_link_title,
	entity_type, entity_bundle, entity_id`

func (s *SQLStore) ByTriple(ctx context.Context, consumerID, contextID, resourceLinkID string) (*Provision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+provisionCols+` FROM provisions
		 WHERE consumer_id = $1 AND context_id = $2 AND resource_link_id = $3`,
		consumerID, contextID, resourceLinkID)
	return scanProvision(row)
}

func (s *SQLStore) Create(ctx context.Context, p *Provision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provisions (`+provisionCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.ConsumerID, p.ContextID, p.ResourceLinkID,
		p.ContextLabel, p.ContextTitle, p.ResourceLinkTitle,
		p.EntityType, p.EntityBundle, p.EntityID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("provision: create: %w", err)
	}
	return nil
}

func (s *SQLStore) SetEntityID(ctx context.Context, id, entityID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE provisions SET entity_id = $1 WHERE id = $2`, entityID, id)
	if err != nil {
		return fmt.Errorf("provision: set entity id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProvision(row *sql.Row) (*Provision, error) {
	var p Provision
	err := row.Scan(&p.ID, &p.ConsumerID, &p.ContextID, &p.ResourceLinkID,
		&p.ContextLabel, &p.ContextTitle, &p.ResourceLinkTitle,
		&p.EntityType, &p.EntityBundle, &p.EntityID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("provision: scan: %w", err)
	}
	return &p, nil
}

// isUniqueViolation matches the unique-constraint errors of the supported
// drivers without importing either. Postgres reports SQLSTATE 23505,
// SQLite reports "UNIQUE constraint failed".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// SQLEntities is a generic EntityStorage over the resources table. Hosts
// embedding the engine normally supply their own storage; this keeps the
// standalone daemon self-contained.
type SQLEntities struct {
	db *sql.DB
}

func NewSQLEntities(db *sql.DB) *SQLEntities {
	return &SQLEntities{db: db}
}

func (s *SQLEntities) New(_ context.Context, entityType, bundle string) (Entity, error) {
	return &MemoryEntity{EType: entityType, EBndl: bundle, Fields: make(map[string]string)}, nil
}

func (s *SQLEntities) Load(ctx context.Context, entityType, id string) (Entity, error) {
	var (
		e      MemoryEntity
		fields []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, entity_type, bundle, fields FROM resources WHERE id = $1 AND entity_type = $2`,
		id, entityType).Scan(&e.EID, &e.EType, &e.EBndl, &fields)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("provision: load resource: %w", err)
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &e.Fields); err != nil {
			return nil, fmt.Errorf("provision: decode resource fields: %w", err)
		}
	}
	return &e, nil
}

func (s *SQLEntities) Save(ctx context.Context, e Entity) (string, error) {
	id := e.ID()
	if id == "" {
		id = newResourceID()
	}
	fields := make(map[string]string)
	if me, ok := e.(*MemoryEntity); ok {
		for k, v := range me.Fields {
			fields[k] = v
		}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("provision: encode resource fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resources (id, entity_type, bundle, fields) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET fields = EXCLUDED.fields`,
		id, e.Type(), e.Bundle(), raw)
	if err != nil {
		return "", fmt.Errorf("provision: save resource: %w", err)
	}
	return id, nil
}

func newResourceID() string { return uuid.NewString() }
