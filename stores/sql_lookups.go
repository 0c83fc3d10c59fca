package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/rowguard"
)

// ============================================================================
// RESOURCE METADATA
// ============================================================================

// SQLResourceMetaStore reads per-object scoping columns from the
// resource_meta table. An object without a row resolves to zero metadata.
type SQLResourceMetaStore struct {
	db *squealx.DB
}

func NewSQLResourceMetaStore(db *squealx.DB) *SQLResourceMetaStore {
	return &SQLResourceMetaStore{db: db}
}

func (s *SQLResourceMetaStore) ResourceMeta(ctx context.Context, object string) (rowguard.ResourceMeta, error) {
	q := `SELECT object, owner_column, creator_column, updator_column FROM resource_meta WHERE object = :object`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"object": object})
	if err != nil {
		return rowguard.ResourceMeta{}, err
	}
	defer r.Close()
	if !r.Next() {
		return rowguard.ResourceMeta{Object: object}, nil
	}
	var meta rowguard.ResourceMeta
	if err := r.Scan(&meta.Object, &meta.OwnerColumn, &meta.CreatorColumn, &meta.UpdatorColumn); err != nil {
		return rowguard.ResourceMeta{}, err
	}
	return meta, nil
}

func (s *SQLResourceMetaStore) UpsertResourceMeta(ctx context.Context, meta rowguard.ResourceMeta) error {
	q := `INSERT OR REPLACE INTO resource_meta(object, owner_column, creator_column, updator_column)
	      VALUES(:object, :owner_column, :creator_column, :updator_column)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"object":         meta.Object,
		"owner_column":   meta.OwnerColumn,
		"creator_column": meta.CreatorColumn,
		"updator_column": meta.UpdatorColumn,
	})
	return err
}

// ============================================================================
// ACTORS
// ============================================================================

// SQLActorStore resolves actors from the actors table. Domains and free-form
// attributes are stored as JSON text columns.
type SQLActorStore struct {
	db *squealx.DB
}

func NewSQLActorStore(db *squealx.DB) *SQLActorStore {
	return &SQLActorStore{db: db}
}

func (s *SQLActorStore) ActorByIdentifier(ctx context.Context, identifier string) (*rowguard.Actor, error) {
	q := `SELECT id, identifier, domains_json, attrs_json FROM actors WHERE identifier = :identifier`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"identifier": identifier})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("actor %q: %w", identifier, sql.ErrNoRows)
	}
	var (
		a           rowguard.Actor
		domainsJSON string
		attrsJSON   string
	)
	if err := r.Scan(&a.ID, &a.Identifier, &domainsJSON, &attrsJSON); err != nil {
		return nil, err
	}
	if domainsJSON != "" {
		if err := json.Unmarshal([]byte(domainsJSON), &a.Domains); err != nil {
			return nil, fmt.Errorf("actor %q domains: %w", identifier, err)
		}
	}
	if attrsJSON != "" && attrsJSON != "{}" {
		if err := json.Unmarshal([]byte(attrsJSON), &a.Attrs); err != nil {
			return nil, fmt.Errorf("actor %q attrs: %w", identifier, err)
		}
	}
	return &a, nil
}

// Upsert writes an actor record, keying on the unique identifier.
func (s *SQLActorStore) Upsert(ctx context.Context, a rowguard.Actor) error {
	domainsJSON, err := json.Marshal(a.Domains)
	if err != nil {
		return err
	}
	attrs := a.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	q := `INSERT INTO actors(identifier, domains_json, attrs_json)
	      VALUES(:identifier, :domains_json, :attrs_json)
	      ON CONFLICT(identifier) DO UPDATE SET domains_json = :domains_json, attrs_json = :attrs_json`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"identifier":   a.Identifier,
		"domains_json": string(domainsJSON),
		"attrs_json":   string(attrsJSON),
	})
	return err
}

// IsNotFound reports whether an actor lookup failed because no row matched.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// ============================================================================
// RELATIONSHIPS
// ============================================================================

// SQLRelationshipStore answers relationship checks from the relationships
// table. A relationship is valid when now falls inside its window; NULL
// boundaries leave that side open.
type SQLRelationshipStore struct {
	db *squealx.DB
}

func NewSQLRelationshipStore(db *squealx.DB) *SQLRelationshipStore {
	return &SQLRelationshipStore{db: db}
}

func (s *SQLRelationshipStore) HasRelationship(ctx context.Context, actorID int64, domain string) (bool, error) {
	q := `SELECT valid_from, valid_until FROM relationships WHERE actor_id = :actor_id AND domain = :domain`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"actor_id": actorID, "domain": domain})
	if err != nil {
		return false, err
	}
	defer r.Close()
	if !r.Next() {
		return false, nil
	}
	var rawFrom, rawUntil any
	if err := r.Scan(&rawFrom, &rawUntil); err != nil {
		return false, err
	}
	from, until := scanTime(rawFrom), scanTime(rawUntil)
	now := time.Now()
	if !from.IsZero() && now.Before(from) {
		return false, nil
	}
	if !until.IsZero() && now.After(until) {
		return false, nil
	}
	return true, nil
}

// Link records a relationship window; zero times store as NULL.
func (s *SQLRelationshipStore) Link(ctx context.Context, actorID int64, domain string, from, until time.Time) error {
	q := `INSERT INTO relationships(actor_id, domain, valid_from, valid_until)
	      VALUES(:actor_id, :domain, :valid_from, :valid_until)
	      ON CONFLICT(actor_id, domain) DO UPDATE SET valid_from = :valid_from, valid_until = :valid_until`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"actor_id":    actorID,
		"domain":      domain,
		"valid_from":  nullableTime(from),
		"valid_until": nullableTime(until),
	})
	return err
}

func (s *SQLRelationshipStore) Unlink(ctx context.Context, actorID int64, domain string) error {
	q := `DELETE FROM relationships WHERE actor_id = :actor_id AND domain = :domain`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"actor_id": actorID, "domain": domain})
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
