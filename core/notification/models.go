package notification

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Kind tags a notification and selects the shape of its payload.
type Kind string

const (
	KindStudentAssigned      Kind = "student_assigned"
	KindStudentUnassigned    Kind = "student_unassigned"
	KindSupervisorAssigned   Kind = "supervisor_assigned"
	KindSupervisorUnassigned Kind = "supervisor_unassigned"
	KindSupervisorRemoved    Kind = "supervisor_removed"
	KindMilestoneUpdated     Kind = "milestone_updated"
)

// Payload is one of the closed set of notification bodies below.
type Payload interface {
	Kind() Kind
}

type (
	// StudentAssigned is sent to a supervisor who got a new researcher.
	StudentAssigned struct {
		StudentID   string `json:"student_id"`
		StudentName string `json:"student_name"`
		ActorID     string `json:"actor_id"`
		ActorName   string `json:"actor_name"`
	}

	// StudentUnassigned is sent to a supervisor who lost a researcher.
	StudentUnassigned struct {
		StudentID   string `json:"student_id"`
		StudentName string `json:"student_name"`
		ActorID     string `json:"actor_id"`
		ActorName   string `json:"actor_name"`
	}

	// SupervisorAssigned is sent to a researcher who got a supervisor.
	SupervisorAssigned struct {
		SupervisorID   string `json:"supervisor_id"`
		SupervisorName string `json:"supervisor_name"`
		ActorID        string `json:"actor_id"`
		ActorName      string `json:"actor_name"`
	}

	// SupervisorUnassigned is sent to a researcher whose supervisor was unassigned.
	SupervisorUnassigned struct {
		SupervisorID   string `json:"supervisor_id"`
		SupervisorName string `json:"supervisor_name"`
		ActorID        string `json:"actor_id"`
		ActorName      string `json:"actor_name"`
	}

	// SupervisorRemoved is sent to a researcher whose supervisor profile was deleted.
	SupervisorRemoved struct {
		SupervisorID   string `json:"supervisor_id"`
		SupervisorName string `json:"supervisor_name"`
		ActorID        string `json:"actor_id"`
		ActorName      string `json:"actor_name"`
	}

	// MilestoneUpdated is sent when a researcher's milestone changes state.
	MilestoneUpdated struct {
		StudentID string `json:"student_id"`
		Milestone string `json:"milestone"`
		Status    string `json:"status"`
		ActorID   string `json:"actor_id"`
		ActorName string `json:"actor_name"`
	}
)

func (StudentAssigned) Kind() Kind { return KindStudentAssigned }
func (StudentUnassigned) Kind() Kind { return KindStudentUnassigned }
func (SupervisorAssigned) Kind() Kind { return KindSupervisorAssigned }
func (SupervisorUnassigned) Kind() Kind { return KindSupervisorUnassigned }
func (SupervisorRemoved) Kind() Kind { return KindSupervisorRemoved }
func (MilestoneUpdated) Kind() Kind { return KindMilestoneUpdated }

var errUnknownKind = errors.New("unknown notification kind")

// DecodePayload decodes the raw JSON payload of a notification of the given kind.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	var p Payload
	switch kind {
	case KindStudentAssigned:
		p = new(StudentAssigned)
	case KindStudentUnassigned:
		p = new(StudentUnassigned)
	case KindSupervisorAssigned:
		p = new(SupervisorAssigned)
	case KindSupervisorUnassigned:
		p = new(SupervisorUnassigned)
	case KindSupervisorRemoved:
		p = new(SupervisorRemoved)
	case KindMilestoneUpdated:
		p = new(MilestoneUpdated)
	default:
		return nil, errors.Wrapf(errUnknownKind, "%q", kind)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, errors.Wrapf(err, "decoding %s payload", kind)
	}
	// hand out values, not pointers
	switch v := p.(type) {
	case *StudentAssigned:
		return *v, nil
	case *StudentUnassigned:
		return *v, nil
	case *SupervisorAssigned:
		return *v, nil
	case *SupervisorUnassigned:
		return *v, nil
	case *SupervisorRemoved:
		return *v, nil
	default:
		return *(p.(*MilestoneUpdated)), nil
	}
}

type Notification struct {
	ID          string     `json:"id"`
	RecipientID string     `json:"recipient_id"`
	Type        Kind       `json:"type"`
	Payload     Payload    `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"` // UTC
	ReadAt      *time.Time `json:"read_at"`
}

// UnmarshalJSON restores the typed payload from its kind.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type alias Notification
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p, err := DecodePayload(n.Type, aux.Payload)
	if err != nil {
		return err
	}
	n.Payload = p
	return nil
}

type QueryFilter struct {
	Since *time.Time
	Limit int
}

// MaxListed caps how many notifications a listing returns.
const MaxListed = 100
