package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	MinParticipants = 1
	MaxParticipants = 10
)

// Case is a fiche moving through the approval and delivery workflow.
type Case struct {
	ID               string
	State            State
	InitiatorID      string
	OrganizationID   string
	Workshops        WorkshopSelection
	ParticipantCount int
	Metadata         Metadata
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (c Case) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("case id is required")
	}
	if !c.State.Valid() {
		return fmt.Errorf("invalid case state %q", c.State)
	}
	if strings.TrimSpace(c.InitiatorID) == "" {
		return errors.New("initiator id is required")
	}
	if c.ParticipantCount < MinParticipants || c.ParticipantCount > MaxParticipants {
		return fmt.Errorf("participant count must be between %d and %d", MinParticipants, MaxParticipants)
	}
	return nil
}

// CasePatch is applied by a single UpdateCase write. Nil fields are left
// untouched.
type CasePatch struct {
	State          *State
	OrganizationID *string
	Metadata       Metadata
	UpdatedAt      time.Time
}
