package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ActionKind string

const (
	ActionBook       ActionKind = "book"
	ActionConfirm    ActionKind = "confirm"
	ActionReschedule ActionKind = "reschedule"
	ActionCancel     ActionKind = "cancel"
	ActionQuery      ActionKind = "query"
)

// lastOption asks for the final entry of a numbered list.
const lastOption = -1

// Action is a structured request from the classifier. Slots are referenced
// either by OptionNumber into the presented options or by WorkWindowID and
// Start; appointments by AppointmentNumber into the patient's list or by ID.
type Action struct {
	Kind              ActionKind
	OptionNumber      int
	AppointmentNumber int
	AppointmentID     uuid.UUID
	WorkWindowID      uuid.UUID
	Start             time.Time
	Reason            string
	Category          string
}

type Request struct {
	Utterance  string
	State      State // session state before the turn
	Transcript []Message
	Context    string
	Categories []string
}

// Decision is either free text or an action; Text may accompany an action.
type Decision struct {
	Text   string
	Action *Action
}

type Classifier interface {
	Classify(ctx context.Context, req Request) (Decision, error)
}

type ClassifierFunc func(ctx context.Context, req Request) (Decision, error)

func (f ClassifierFunc) Classify(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}
