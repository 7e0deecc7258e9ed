package agent

import (
	"sync"
	"time"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/survey"
)

// Session holds one respondent's conversation state. All mutable fields are
// guarded by mu; turnMu serializes whole turns (SubmitResponse and the idle
// reaper take it, Abandon and snapshot reads deliberately do not).
type Session struct {
	ID       string
	Survey   survey.Survey
	Employee survey.Employee

	turnMu sync.Mutex

	mu           sync.Mutex
	status       Status
	reason       string
	expired      bool
	index        int              // position of the current question
	current      *survey.Question // nil once the survey ran out of questions
	attempts     int              // re-prompt attempts for the current question
	turns        []Turn
	answers      map[int64]string // question id -> latest value, incl. skip sentinels
	createdAt    time.Time
	updatedAt    time.Time
	lastActivity time.Time
}

func newSession(id string, sv survey.Survey, emp survey.Employee) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		Survey:       sv,
		Employee:     emp,
		status:       StatusCreated,
		answers:      make(map[int64]string),
		createdAt:    now,
		updatedAt:    now,
		lastActivity: now,
	}
}

// touch refreshes the activity clock. Callers hold mu.
func (s *Session) touch() {
	now := time.Now().UTC()
	s.updatedAt = now
	s.lastActivity = now
}

// commitTurn appends a turn with the next gap-free sequence number and
// records its value as the authoritative answer. Callers hold mu.
func (s *Session) commitTurn(q survey.Question, raw, value string, confidence float64) Turn {
	t := Turn{
		Seq:         len(s.turns) + 1,
		QuestionID:  q.ID,
		Raw:         raw,
		Value:       value,
		Confidence:  confidence,
		CommittedAt: time.Now().UTC(),
	}
	s.turns = append(s.turns, t)
	s.answers[q.ID] = value
	s.attempts = 0
	return t
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot copies the session state for read-only callers.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	var current *survey.Question
	if s.current != nil {
		q := *s.current
		current = &q
	}
	return Snapshot{
		ID:              s.ID,
		SurveyID:        s.Survey.ID,
		EmployeeID:      s.Employee.ID,
		EmployeeName:    s.Employee.Name,
		Status:          s.status,
		Reason:          s.reason,
		QuestionIndex:   s.index,
		TotalQuestions:  len(s.Survey.Questions),
		CurrentQuestion: current,
		Attempts:        s.attempts,
		Turns:           turns,
		CreatedAt:       s.createdAt,
		UpdatedAt:       s.updatedAt,
	}
}

// AnswerRecord maps every answered or skipped question id to its final value,
// the latest committed turn being authoritative.
func (s *Session) AnswerRecord() map[int64]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]string, len(s.answers))
	for id, v := range s.answers {
		out[id] = v
	}
	return out
}

// idleSince returns the last activity instant.
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
