package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/casework/internal/domain"
)

// ReferenceStore reads actors, workshops and organizations. Their CRUD
// belongs to other services.
type ReferenceStore struct {
	db DB
}

const (
	selectActorQuery = `SELECT actor_id, role, organization_id, name, email
	 FROM actors WHERE actor_id = $1`

	selectWorkshopQuery = `SELECT workshop_id, name, min_capacity, max_capacity
	 FROM workshops WHERE workshop_id = $1`

	selectOrganizationQuery = `SELECT organization_id, name
	 FROM organizations WHERE organization_id = $1`
)

func NewReferenceStore(db DB) *ReferenceStore {
	if db == nil {
		return nil
	}
	return &ReferenceStore{db: db}
}

func (s *ReferenceStore) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	if s == nil || s.db == nil {
		return domain.Actor{}, fmt.Errorf("reference store not initialized")
	}
	var (
		actor domain.Actor
		role  string
		org   sql.NullString
		name  sql.NullString
		email sql.NullString
	)
	err := s.db.QueryRowContext(ctx, selectActorQuery, strings.TrimSpace(id)).Scan(
		&actor.ID, &role, &org, &name, &email,
	)
	if err != nil {
		return domain.Actor{}, handleNotFound(err)
	}
	parsed, ok := domain.ParseRole(role)
	if !ok {
		return domain.Actor{}, fmt.Errorf("actor %s has unknown role %q", actor.ID, role)
	}
	actor.Role = parsed
	actor.OrganizationID = org.String
	actor.Name = name.String
	actor.Email = email.String
	return actor, nil
}

func (s *ReferenceStore) GetWorkshop(ctx context.Context, id string) (domain.Workshop, error) {
	if s == nil || s.db == nil {
		return domain.Workshop{}, fmt.Errorf("reference store not initialized")
	}
	var (
		w      domain.Workshop
		name   sql.NullString
		minCap sql.NullInt64
		maxCap sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, selectWorkshopQuery, strings.TrimSpace(id)).Scan(
		&w.ID, &name, &minCap, &maxCap,
	)
	if err != nil {
		return domain.Workshop{}, handleNotFound(err)
	}
	w.Name = name.String
	w.MinCapacity = intPtr(minCap)
	w.MaxCapacity = intPtr(maxCap)
	return w, nil
}

func (s *ReferenceStore) GetOrganization(ctx context.Context, id string) (domain.Organization, error) {
	if s == nil || s.db == nil {
		return domain.Organization{}, fmt.Errorf("reference store not initialized")
	}
	var (
		o    domain.Organization
		name sql.NullString
	)
	err := s.db.QueryRowContext(ctx, selectOrganizationQuery, strings.TrimSpace(id)).Scan(&o.ID, &name)
	if err != nil {
		return domain.Organization{}, handleNotFound(err)
	}
	o.Name = name.String
	return o, nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
