package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/repo"
)

type CaseStore struct {
	db DB
}

const (
	caseColumns = `case_id, state, initiator_id, organization_id, workshops, participant_count, metadata, created_at, updated_at`

	insertCaseQuery = `INSERT INTO cases (
		case_id,
		state,
		initiator_id,
		organization_id,
		workshops,
		participant_count,
		metadata,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	selectCaseQuery = `SELECT ` + caseColumns + ` FROM cases WHERE case_id = $1`

	listCasesQuery = `SELECT ` + caseColumns + ` FROM cases
	 WHERE ($1 = '' OR state = $1) AND ($2 = '' OR organization_id = $2)
	 ORDER BY created_at DESC, case_id ASC
	 LIMIT $3`

	// NULL arguments leave the column as is. Metadata keys patched to null
	// are removed.
	updateCaseQuery = `UPDATE cases SET
		state = COALESCE($2, state),
		organization_id = COALESCE($3, organization_id),
		metadata = jsonb_strip_nulls(metadata || $4::jsonb),
		updated_at = $5
	 WHERE case_id = $1
	 RETURNING ` + caseColumns
)

func NewCaseStore(db DB) *CaseStore {
	if db == nil {
		return nil
	}
	return &CaseStore{db: db}
}

func (s *CaseStore) CreateCase(ctx context.Context, c domain.Case) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("case store not initialized")
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	workshops, err := json.Marshal(c.Workshops.Clone())
	if err != nil {
		return fmt.Errorf("encode workshops: %w", err)
	}
	metadata, err := encodeMetadata(c.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	createdAt := normalizeTime(c.CreatedAt)
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.db.ExecContext(ctx, insertCaseQuery,
		strings.TrimSpace(c.ID),
		string(c.State),
		strings.TrimSpace(c.InitiatorID),
		nullIfEmpty(c.OrganizationID),
		workshops,
		c.ParticipantCount,
		metadata,
		createdAt,
		updatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("case %s: %w", c.ID, repo.ErrConflict)
		}
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *CaseStore) GetCase(ctx context.Context, id string) (domain.Case, error) {
	if s == nil || s.db == nil {
		return domain.Case{}, fmt.Errorf("case store not initialized")
	}
	c, err := scanCase(s.db.QueryRowContext(ctx, selectCaseQuery, strings.TrimSpace(id)))
	if err != nil {
		return domain.Case{}, handleNotFound(err)
	}
	return c, nil
}

func (s *CaseStore) ListCases(ctx context.Context, filter repo.CaseFilter) ([]domain.Case, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("case store not initialized")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, listCasesQuery, string(filter.State), strings.TrimSpace(filter.OrganizationID), limit)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return out, nil
}

func (s *CaseStore) UpdateCase(ctx context.Context, id string, patch domain.CasePatch) (domain.Case, error) {
	if s == nil || s.db == nil {
		return domain.Case{}, fmt.Errorf("case store not initialized")
	}
	var state sql.NullString
	if patch.State != nil {
		if !patch.State.Valid() {
			return domain.Case{}, fmt.Errorf("%w: state %q", domain.ErrInvalidInput, *patch.State)
		}
		state = sql.NullString{String: string(*patch.State), Valid: true}
	}
	var org sql.NullString
	if patch.OrganizationID != nil {
		org = sql.NullString{String: strings.TrimSpace(*patch.OrganizationID), Valid: true}
	}
	metadata, err := encodeMetadata(patch.Metadata)
	if err != nil {
		return domain.Case{}, fmt.Errorf("encode metadata: %w", err)
	}

	row := s.db.QueryRowContext(ctx, updateCaseQuery,
		strings.TrimSpace(id),
		state,
		org,
		metadata,
		normalizeTime(patch.UpdatedAt),
	)
	c, err := scanCase(row)
	if err != nil {
		return domain.Case{}, handleNotFound(err)
	}
	return c, nil
}

func scanCase(scanner rowScanner) (domain.Case, error) {
	var (
		c         domain.Case
		state     string
		org       sql.NullString
		workshops []byte
		metadata  []byte
	)
	if err := scanner.Scan(
		&c.ID,
		&state,
		&c.InitiatorID,
		&org,
		&workshops,
		&c.ParticipantCount,
		&metadata,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return domain.Case{}, err
	}
	c.State = domain.State(state)
	c.OrganizationID = org.String
	c.Workshops = domain.WorkshopSelection{}
	if len(workshops) > 0 {
		if err := json.Unmarshal(workshops, &c.Workshops); err != nil {
			return domain.Case{}, fmt.Errorf("decode workshops: %w", err)
		}
	}
	meta, err := decodeMetadata(metadata)
	if err != nil {
		return domain.Case{}, fmt.Errorf("decode metadata: %w", err)
	}
	c.Metadata = meta
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}
