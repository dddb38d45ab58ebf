package receipt

import (
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/domain/errors"
	"github.com/google/uuid"
)

// Mode selects the wire format handed to the driver.
type Mode string

const (
	ModeLive Mode = "live"
	ModeTest Mode = "test"
)

// Status is the journal state of a dispatched command.
type Status string

const (
	StatusPending     Status = "pending"
	StatusPrinted     Status = "printed"
	StatusFailed      Status = "failed"
	StatusTimedOut    Status = "timed_out"
	StatusWriteFailed Status = "write_failed"
)

// Receipt is the journal record of one command sent to the driver.
type Receipt struct {
	ID             uuid.UUID
	Kind           Kind
	Mode           Mode
	ArtifactName   string
	Command        string
	TotalCents     int64
	Status         Status
	Details        *string
	ErrorTimestamp *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResolvedAt     *time.Time
}

// NewReceipt creates a pending journal record.
func NewReceipt(kind Kind, mode Mode, artifactName, command string) (*Receipt, error) {
	if artifactName == "" {
		return nil, errors.NewValidationError("artifact_name", "cannot be empty")
	}
	if command == "" {
		return nil, errors.NewValidationError("command", "cannot be empty")
	}

	now := time.Now()
	return &Receipt{
		ID:           uuid.New(),
		Kind:         kind,
		Mode:         mode,
		ArtifactName: artifactName,
		Command:      command,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

var transitions = map[Status][]Status{
	StatusPending: {
		StatusPrinted,
		StatusFailed,
		StatusTimedOut,
		StatusWriteFailed,
	},
	// A timed out command may still be completed by the driver later.
	StatusTimedOut: {
		StatusPrinted,
		StatusFailed,
	},
	StatusPrinted:     {},
	StatusFailed:      {},
	StatusWriteFailed: {},
}

// CanTransitionTo checks if the receipt can move to the given status
func (r *Receipt) CanTransitionTo(newStatus Status) bool {
	for _, allowed := range transitions[r.Status] {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo moves the receipt to a new status
func (r *Receipt) TransitionTo(newStatus Status) error {
	if !r.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(r.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}

	now := time.Now()
	r.Status = newStatus
	r.UpdatedAt = now
	if newStatus != StatusPending {
		r.ResolvedAt = &now
	}
	return nil
}

// MarkPrinted records that the driver accepted the command.
func (r *Receipt) MarkPrinted() error {
	return r.TransitionTo(StatusPrinted)
}

// MarkFailed records the driver's decoded error.
func (r *Receipt) MarkFailed(details string, timestamp *string) error {
	if err := r.TransitionTo(StatusFailed); err != nil {
		return err
	}
	r.Details = &details
	r.ErrorTimestamp = timestamp
	return nil
}

// MarkTimedOut records that no result appeared before the deadline.
func (r *Receipt) MarkTimedOut() error {
	return r.TransitionTo(StatusTimedOut)
}

// MarkWriteFailed records that the command never reached the inbox.
func (r *Receipt) MarkWriteFailed(reason string) error {
	if err := r.TransitionTo(StatusWriteFailed); err != nil {
		return err
	}
	r.Details = &reason
	return nil
}

// IsTerminal reports whether no further transition is possible.
func (r *Receipt) IsTerminal() bool {
	return len(transitions[r.Status]) == 0
}
