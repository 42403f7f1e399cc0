// Package sessions projects enrollment rows into logical workshop sessions:
// every enrollment sharing (workshop, organization, session number).
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/repo"
)

type Store interface {
	ListEnrollments(ctx context.Context, filter repo.EnrollmentFilter) ([]domain.Enrollment, error)
	GetWorkshop(ctx context.Context, id string) (domain.Workshop, error)
	GetOrganization(ctx context.Context, id string) (domain.Organization, error)
}

// ReportLinker turns a stored report reference into a downloadable URL.
type ReportLinker interface {
	ReportLink(ctx context.Context, ref string) (string, error)
}

type Filter struct {
	OrganizationID string
	WorkshopID     string
}

type Report struct {
	EnrollmentID string
	Ref          string
	URL          string
}

// Session is the aggregate of one (workshop, organization, session number).
// Flags are ORed and timestamps hold the latest value across enrollments.
type Session struct {
	WorkshopID       string
	WorkshopName     string
	OrganizationID   string
	OrganizationName string
	SessionNumber    int
	Participants     int
	Locked           bool
	ActivityDone     bool
	HasReport        bool
	LockedAt         *time.Time
	ActivityDoneAt   *time.Time
	LastEnrolledAt   time.Time
	EnrollmentIDs    []string
	CaseIDs          []string
	Reports          []Report
}

type View struct {
	store  Store
	links  ReportLinker
	logger *slog.Logger
}

// New builds the view. links may be nil, in which case reports carry no URL.
func New(store Store, links ReportLinker, logger *slog.Logger) (*View, error) {
	if store == nil {
		return nil, errors.New("sessions store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &View{store: store, links: links, logger: logger}, nil
}

type key struct {
	workshop string
	org      string
	number   int
}

func (v *View) List(ctx context.Context, filter Filter) ([]Session, error) {
	rows, err := v.store.ListEnrollments(ctx, repo.EnrollmentFilter{
		WorkshopID:     strings.TrimSpace(filter.WorkshopID),
		OrganizationID: strings.TrimSpace(filter.OrganizationID),
	})
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}

	groups := map[key]*Session{}
	for _, e := range rows {
		k := key{workshop: e.WorkshopID, org: e.OrganizationID, number: e.SessionNumber}
		s, ok := groups[k]
		if !ok {
			s = &Session{WorkshopID: e.WorkshopID, OrganizationID: e.OrganizationID, SessionNumber: e.SessionNumber}
			groups[k] = s
		}
		s.Participants += e.ParticipantCount
		s.Locked = s.Locked || e.Locked
		s.ActivityDone = s.ActivityDone || e.ActivityDone
		s.LockedAt = latest(s.LockedAt, e.LockedAt)
		s.ActivityDoneAt = latest(s.ActivityDoneAt, e.ActivityDoneAt)
		if e.CreatedAt.After(s.LastEnrolledAt) {
			s.LastEnrolledAt = e.CreatedAt
		}
		s.EnrollmentIDs = append(s.EnrollmentIDs, e.ID)
		s.CaseIDs = appendUnique(s.CaseIDs, e.CaseID)
		if ref := strings.TrimSpace(e.ReportRef); ref != "" {
			s.HasReport = true
			s.Reports = append(s.Reports, Report{EnrollmentID: e.ID, Ref: ref, URL: v.link(ctx, ref)})
		}
	}

	workshopNames := map[string]string{}
	orgNames := map[string]string{}
	out := make([]Session, 0, len(groups))
	for _, s := range groups {
		s.WorkshopName = v.workshopName(ctx, workshopNames, s.WorkshopID)
		s.OrganizationName = v.organizationName(ctx, orgNames, s.OrganizationID)
		sort.Strings(s.EnrollmentIDs)
		sort.Strings(s.CaseIDs)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkshopID != out[j].WorkshopID {
			return out[i].WorkshopID < out[j].WorkshopID
		}
		if out[i].OrganizationID != out[j].OrganizationID {
			return out[i].OrganizationID < out[j].OrganizationID
		}
		return out[i].SessionNumber < out[j].SessionNumber
	})
	return out, nil
}

func (v *View) link(ctx context.Context, ref string) string {
	if v.links == nil {
		return ""
	}
	url, err := v.links.ReportLink(ctx, ref)
	if err != nil {
		v.logger.WarnContext(ctx, "report link failed", "ref", ref, "error", err)
		return ""
	}
	return url
}

// Missing reference rows yield a blank label rather than an error.
func (v *View) workshopName(ctx context.Context, cache map[string]string, id string) string {
	if name, ok := cache[id]; ok {
		return name
	}
	w, err := v.store.GetWorkshop(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		v.logger.WarnContext(ctx, "workshop lookup failed", "workshop_id", id, "error", err)
	}
	cache[id] = w.Name
	return w.Name
}

func (v *View) organizationName(ctx context.Context, cache map[string]string, id string) string {
	if name, ok := cache[id]; ok {
		return name
	}
	o, err := v.store.GetOrganization(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		v.logger.WarnContext(ctx, "organization lookup failed", "organization_id", id, "error", err)
	}
	cache[id] = o.Name
	return o.Name
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case b == nil:
		return a
	case a == nil || b.After(*a):
		t := *b
		return &t
	default:
		return a
	}
}

func appendUnique(dst []string, v string) []string {
	for _, existing := range dst {
		if existing == v {
			return dst
		}
	}
	return append(dst, v)
}
