package domain

// Workshop is a shared, capacity-limited service session template.
// MaxCapacity is advisory and never enforced.
type Workshop struct {
	ID          string
	Name        string
	MinCapacity *int
	MaxCapacity *int
}

// Organization delivers workshops.
type Organization struct {
	ID   string
	Name string
}

// Actor is a user acting on cases.
type Actor struct {
	ID             string
	Role           Role
	OrganizationID string
	Name           string
	Email          string
}
