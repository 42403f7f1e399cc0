package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/repo"
)

type EnrollmentStore struct {
	db         DB
	newBackoff func() backoff.BackOff
}

const (
	enrollmentColumns = `enrollment_id, case_id, workshop_id, organization_id, participant_count, session_number, locked, locked_at, activity_done, activity_done_at, report_ref, created_at`

	// The session number is computed inside the insert. A concurrent insert
	// for the same (workshop, organization) trips the session unique index
	// and is retried; a duplicate (case, workshop) is a no-op.
	insertEnrollmentQuery = `INSERT INTO enrollments (
		enrollment_id,
		case_id,
		workshop_id,
		organization_id,
		participant_count,
		session_number,
		locked,
		created_at
	)
	SELECT $1::text, $2::text, $3::text, $4::text, $5::integer, COUNT(*) + 1, false, $6::timestamptz
	 FROM enrollments
	 WHERE workshop_id = $3::text AND organization_id = $4::text
	ON CONFLICT (case_id, workshop_id) DO NOTHING
	RETURNING ` + enrollmentColumns

	selectEnrollmentByCaseWorkshopQuery = `SELECT ` + enrollmentColumns + `
	 FROM enrollments
	 WHERE case_id = $1 AND workshop_id = $2`

	selectEnrollmentQuery = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE enrollment_id = $1`

	listEnrollmentsQuery = `SELECT ` + enrollmentColumns + `
	 FROM enrollments
	 WHERE ($1 = '' OR case_id = $1)
	   AND ($2 = '' OR workshop_id = $2)
	   AND ($3 = '' OR organization_id = $3)
	   AND ($4::boolean IS NULL OR locked = $4::boolean)
	 ORDER BY created_at ASC, enrollment_id ASC`

	updateEnrollmentQuery = `UPDATE enrollments SET
		activity_done = COALESCE($2, activity_done),
		activity_done_at = COALESCE($3, activity_done_at),
		report_ref = COALESCE($4, report_ref)
	 WHERE enrollment_id = $1
	 RETURNING ` + enrollmentColumns

	lockUnlockedQuery = `UPDATE enrollments
	 SET locked = true, locked_at = $2
	 WHERE workshop_id = $1 AND locked = false
	 RETURNING enrollment_id`
)

func NewEnrollmentStore(db DB) *EnrollmentStore {
	if db == nil {
		return nil
	}
	return &EnrollmentStore{db: db, newBackoff: defaultInsertBackoff}
}

func defaultInsertBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second
	return bo
}

func (s *EnrollmentStore) CreateEnrollment(ctx context.Context, in domain.NewEnrollment) (domain.Enrollment, bool, error) {
	if s == nil || s.db == nil {
		return domain.Enrollment{}, false, fmt.Errorf("enrollment store not initialized")
	}
	if err := in.Validate(); err != nil {
		return domain.Enrollment{}, false, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	caseID := strings.TrimSpace(in.CaseID)
	workshopID := strings.TrimSpace(in.WorkshopID)
	orgID := strings.TrimSpace(in.OrganizationID)
	createdAt := normalizeTime(in.CreatedAt)

	var (
		inserted domain.Enrollment
		created  bool
	)
	op := func() error {
		row := s.db.QueryRowContext(ctx, insertEnrollmentQuery,
			uuid.NewString(),
			caseID,
			workshopID,
			orgID,
			in.ParticipantCount,
			createdAt,
		)
		e, err := scanEnrollment(row)
		switch {
		case err == nil:
			inserted, created = e, true
			return nil
		case errors.Is(err, sql.ErrNoRows):
			existing, err := scanEnrollment(s.db.QueryRowContext(ctx, selectEnrollmentByCaseWorkshopQuery, caseID, workshopID))
			if err != nil {
				return backoff.Permanent(fmt.Errorf("load existing enrollment: %w", err))
			}
			inserted, created = existing, false
			return nil
		case isUniqueViolation(err):
			return err
		default:
			return backoff.Permanent(fmt.Errorf("insert enrollment: %w", err))
		}
	}
	if err := backoff.Retry(op, backoff.WithContext(s.newBackoff(), ctx)); err != nil {
		if isUniqueViolation(err) {
			return domain.Enrollment{}, false, fmt.Errorf("assign session number: %w", repo.ErrConflict)
		}
		return domain.Enrollment{}, false, err
	}
	return inserted, created, nil
}

func (s *EnrollmentStore) GetEnrollment(ctx context.Context, id string) (domain.Enrollment, error) {
	if s == nil || s.db == nil {
		return domain.Enrollment{}, fmt.Errorf("enrollment store not initialized")
	}
	e, err := scanEnrollment(s.db.QueryRowContext(ctx, selectEnrollmentQuery, strings.TrimSpace(id)))
	if err != nil {
		return domain.Enrollment{}, handleNotFound(err)
	}
	return e, nil
}

func (s *EnrollmentStore) ListEnrollments(ctx context.Context, filter repo.EnrollmentFilter) ([]domain.Enrollment, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("enrollment store not initialized")
	}
	var locked sql.NullBool
	if filter.Locked != nil {
		locked = sql.NullBool{Bool: *filter.Locked, Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, listEnrollmentsQuery,
		strings.TrimSpace(filter.CaseID),
		strings.TrimSpace(filter.WorkshopID),
		strings.TrimSpace(filter.OrganizationID),
		locked,
	)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Enrollment, 0)
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return out, nil
}

func (s *EnrollmentStore) UpdateEnrollment(ctx context.Context, id string, patch domain.EnrollmentPatch) (domain.Enrollment, error) {
	if s == nil || s.db == nil {
		return domain.Enrollment{}, fmt.Errorf("enrollment store not initialized")
	}
	var (
		done      sql.NullBool
		doneAt    sql.NullTime
		reportRef sql.NullString
	)
	if patch.ActivityDone != nil {
		done = sql.NullBool{Bool: *patch.ActivityDone, Valid: true}
	}
	if patch.ActivityDoneAt != nil {
		doneAt = sql.NullTime{Time: patch.ActivityDoneAt.UTC(), Valid: true}
	}
	if patch.ReportRef != nil {
		reportRef = sql.NullString{String: strings.TrimSpace(*patch.ReportRef), Valid: true}
	}
	e, err := scanEnrollment(s.db.QueryRowContext(ctx, updateEnrollmentQuery, strings.TrimSpace(id), done, doneAt, reportRef))
	if err != nil {
		return domain.Enrollment{}, handleNotFound(err)
	}
	return e, nil
}

func (s *EnrollmentStore) LockUnlocked(ctx context.Context, workshopID string, at time.Time) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("enrollment store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, lockUnlockedQuery, strings.TrimSpace(workshopID), normalizeTime(at))
	if err != nil {
		return nil, fmt.Errorf("lock enrollments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("lock enrollments: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock enrollments: %w", err)
	}
	return ids, nil
}

func scanEnrollment(scanner rowScanner) (domain.Enrollment, error) {
	var (
		e              domain.Enrollment
		lockedAt       sql.NullTime
		activityDoneAt sql.NullTime
		reportRef      sql.NullString
	)
	if err := scanner.Scan(
		&e.ID,
		&e.CaseID,
		&e.WorkshopID,
		&e.OrganizationID,
		&e.ParticipantCount,
		&e.SessionNumber,
		&e.Locked,
		&lockedAt,
		&e.ActivityDone,
		&activityDoneAt,
		&reportRef,
		&e.CreatedAt,
	); err != nil {
		return domain.Enrollment{}, err
	}
	e.LockedAt = timePtr(lockedAt)
	e.ActivityDoneAt = timePtr(activityDoneAt)
	e.ReportRef = reportRef.String
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
