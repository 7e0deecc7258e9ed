package agent

import (
	"context"
	"errors"
	"time"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/survey"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusCreated          Status = "created"
	StatusInProgress       Status = "in_progress"
	StatusAwaitingResponse Status = "awaiting_response"
	StatusCompleted        Status = "completed"
	StatusAbandoned        Status = "abandoned"
	StatusFailed           Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned || s == StatusFailed
}

// Sentinel answer values. Skipped questions never produce a Turn; unresolved
// questions produce a Turn carrying the sentinel so completion accounting
// still holds.
const (
	ValueSkipped    = "__skipped__"
	ValueUnresolved = "__unresolved__"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("operation not valid in current session state")
	ErrSessionExpired      = errors.New("session expired")
	ErrActiveSessionExists = errors.New("respondent already in an active session")
)

// Turn is one committed question/answer exchange. Immutable after commit.
type Turn struct {
	Seq         int       `json:"seq"`
	QuestionID  int64     `json:"question_id"`
	Raw         string    `json:"raw"`
	Value       string    `json:"value"`
	Confidence  float64   `json:"confidence"`
	CommittedAt time.Time `json:"committed_at"`
}

// Policy decides question order and interprets answers.
type Policy interface {
	NextQuestion(questions []survey.Question, index int, answers map[int64]string) (*survey.Question, int, []survey.Question)
	Interpret(ctx context.Context, q survey.Question, raw string) (value string, confidence float64, err error)
}

// Catalog resolves survey definitions and respondents. Implementations
// return ErrNotFound for unknown ids.
type Catalog interface {
	Survey(ctx context.Context, id int64) (survey.Survey, error)
	Employee(ctx context.Context, id int64) (survey.Employee, error)
}

// SessionRecord is the persisted shape of a session.
type SessionRecord struct {
	ID         string
	SurveyID   int64
	EmployeeID int64
	Status     Status
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store persists sessions and committed turns. A nil Store on the Machine
// disables persistence.
type Store interface {
	CreateSession(ctx context.Context, rec SessionRecord) error
	UpdateSessionStatus(ctx context.Context, id string, status Status, reason string) error
	SaveTurn(ctx context.Context, sessionID string, t Turn) error
}

// Reply is the outcome of Start or SubmitResponse: the next utterance to
// speak, whether the survey finished, and the turn committed (if any).
type Reply struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
	Done      bool   `json:"done"`
	Reprompt  bool   `json:"reprompt,omitempty"`
	Turn      *Turn  `json:"turn,omitempty"`
}

// Snapshot is a read-only copy of session state.
type Snapshot struct {
	ID              string           `json:"session_id"`
	SurveyID        int64            `json:"survey_id"`
	EmployeeID      int64            `json:"employee_id"`
	EmployeeName    string           `json:"employee_name"`
	Status          Status           `json:"status"`
	Reason          string           `json:"reason,omitempty"`
	QuestionIndex   int              `json:"question_index"`
	TotalQuestions  int              `json:"total_questions"`
	CurrentQuestion *survey.Question `json:"current_question,omitempty"`
	Attempts        int              `json:"attempts"`
	Turns           []Turn           `json:"turns"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
