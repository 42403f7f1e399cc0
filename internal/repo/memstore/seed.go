package memstore

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/casework/internal/domain"
)

// Seed is reference data for the memory backend, normally loaded from the
// file named by CASEWORK_SEED.
type Seed struct {
	Organizations []SeedOrganization `yaml:"organizations"`
	Workshops     []SeedWorkshop     `yaml:"workshops"`
	Actors        []SeedActor        `yaml:"actors"`
}

type SeedOrganization struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type SeedWorkshop struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	MinCapacity *int   `yaml:"min_capacity"`
	MaxCapacity *int   `yaml:"max_capacity"`
}

type SeedActor struct {
	ID             string `yaml:"id"`
	Role           string `yaml:"role"`
	OrganizationID string `yaml:"organization_id"`
	Name           string `yaml:"name"`
	Email          string `yaml:"email"`
}

func ParseSeed(r io.Reader) (Seed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var seed Seed
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return Seed{}, nil
		}
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	return seed, nil
}

// Apply validates the whole seed before writing any of it.
func (s *Store) Apply(seed Seed) error {
	actors := make([]domain.Actor, 0, len(seed.Actors))
	for i, a := range seed.Actors {
		role, ok := domain.ParseRole(a.Role)
		if !ok {
			return fmt.Errorf("actors[%d]: unknown role %q", i, a.Role)
		}
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("actors[%d]: id is required", i)
		}
		actors = append(actors, domain.Actor{
			ID:             strings.TrimSpace(a.ID),
			Role:           role,
			OrganizationID: strings.TrimSpace(a.OrganizationID),
			Name:           a.Name,
			Email:          a.Email,
		})
	}
	for i, o := range seed.Organizations {
		if strings.TrimSpace(o.ID) == "" {
			return fmt.Errorf("organizations[%d]: id is required", i)
		}
	}
	for i, w := range seed.Workshops {
		if strings.TrimSpace(w.ID) == "" {
			return fmt.Errorf("workshops[%d]: id is required", i)
		}
		if w.MinCapacity != nil && *w.MinCapacity < 0 {
			return fmt.Errorf("workshops[%d]: min_capacity must be >= 0", i)
		}
	}

	for _, o := range seed.Organizations {
		s.PutOrganization(domain.Organization{ID: strings.TrimSpace(o.ID), Name: o.Name})
	}
	for _, w := range seed.Workshops {
		s.PutWorkshop(domain.Workshop{
			ID:          strings.TrimSpace(w.ID),
			Name:        w.Name,
			MinCapacity: w.MinCapacity,
			MaxCapacity: w.MaxCapacity,
		})
	}
	for _, a := range actors {
		s.PutActor(a)
	}
	return nil
}
