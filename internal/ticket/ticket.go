package ticket

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

var (
	// ErrMissingID is returned when a ticket has no identifier.
	ErrMissingID = errors.New("ticket id is required")
	// ErrMissingDescription is returned when a ticket has no description text.
	ErrMissingDescription = errors.New("ticket description is required")
	// ErrMissingResolution is returned when a ticket is marked resolved
	// without resolution text.
	ErrMissingResolution = errors.New("resolved ticket must carry a resolution")
)

// Ticket is a helpdesk ticket. A resolved ticket always carries a non-empty
// resolution; an open ticket never does. The constructors and Validate
// enforce this, so code holding a Ticket can rely on it.
type Ticket struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Resolution  string    `json:"resolution,omitempty"`
	Status      Status    `json:"status"`
	AgentName   string    `json:"agent_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ResolvedAt  time.Time `json:"resolved_at,omitempty"`
}

// New creates an open ticket.
func New(id, description string) (Ticket, error) {
	t := Ticket{
		ID:          strings.TrimSpace(id),
		Description: strings.TrimSpace(description),
		Status:      StatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	if err := t.Validate(); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// NewResolved creates a resolved ticket, typically when loading historical
// ticket dumps into the corpus.
func NewResolved(id, description, resolution string, resolvedAt time.Time) (Ticket, error) {
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}
	t := Ticket{
		ID:          strings.TrimSpace(id),
		Description: strings.TrimSpace(description),
		Resolution:  strings.TrimSpace(resolution),
		Status:      StatusResolved,
		CreatedAt:   resolvedAt,
		ResolvedAt:  resolvedAt,
	}
	if err := t.Validate(); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// Validate checks the ticket invariants.
func (t Ticket) Validate() error {
	if t.ID == "" {
		return ErrMissingID
	}
	if t.Description == "" {
		return ErrMissingDescription
	}
	switch t.Status {
	case StatusOpen:
		if t.Resolution != "" {
			return fmt.Errorf("ticket %s: open ticket must not carry a resolution", t.ID)
		}
	case StatusResolved:
		if strings.TrimSpace(t.Resolution) == "" {
			return fmt.Errorf("ticket %s: %w", t.ID, ErrMissingResolution)
		}
	default:
		return fmt.Errorf("ticket %s: unknown status %q", t.ID, t.Status)
	}
	return nil
}

// Resolve returns a copy of the ticket marked resolved with the given
// resolution text.
func (t Ticket) Resolve(resolution, agentName string, resolvedAt time.Time) (Ticket, error) {
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}
	out := t
	out.Resolution = strings.TrimSpace(resolution)
	out.Status = StatusResolved
	out.AgentName = agentName
	out.ResolvedAt = resolvedAt
	if err := out.Validate(); err != nil {
		return Ticket{}, err
	}
	return out, nil
}
