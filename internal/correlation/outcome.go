// Package correlation matches result artifacts dropped by the fiscal driver
// back to the command artifacts that produced them.
package correlation

// State is the lifecycle position of one correlation.
type State int

const (
	StateWaiting State = iota
	StateSucceeded
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a correlation. It is one of Succeeded,
// Failed or TimedOut.
type Outcome interface {
	State() State
	Artifact() string
	outcome()
}

// Succeeded means the driver moved the artifact into the success outbox.
type Succeeded struct {
	ArtifactName string
}

// Failed means the driver moved the artifact into the error outbox.
// Details is never empty.
type Failed struct {
	ArtifactName string
	Details      string
	// Timestamp is the driver's own error time, empty when it could not be
	// extracted.
	Timestamp    string
	EchoMismatch bool
	Tier         Tier
}

// TimedOut means no result artifact appeared before the deadline. The
// driver may still process the command later.
type TimedOut struct {
	ArtifactName string
}

func (Succeeded) State() State { return StateSucceeded }
func (Failed) State() State    { return StateFailed }
func (TimedOut) State() State  { return StateTimedOut }

func (o Succeeded) Artifact() string { return o.ArtifactName }
func (o Failed) Artifact() string    { return o.ArtifactName }
func (o TimedOut) Artifact() string  { return o.ArtifactName }

func (Succeeded) outcome() {}
func (Failed) outcome()    {}
func (TimedOut) outcome()  {}
