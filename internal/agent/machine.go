// Package agent contains the survey conversation core: the per-session state
// machine, the process-wide session registry and the idle reaper.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/policy"
)

// Options tunes the conversation behavior. Nil fields fall back to the
// documented defaults; explicit zeros are honored (RetryLimit 0 means no
// re-prompts, ConfidenceThreshold 0 accepts every interpretation).
type Options struct {
	// ConfidenceThreshold is the minimum combined confidence below which a
	// turn is re-prompted instead of committed. Defaults to 0.5.
	ConfidenceThreshold *float64
	// RetryLimit bounds re-prompts per question; after RetryLimit+1 low
	// confidence attempts the question is committed as unresolved.
	// Defaults to 2.
	RetryLimit *int
}

// Machine drives survey sessions: it owns the registry and sequences policy
// decisions, turn commits and persistence.
type Machine struct {
	registry   *Registry
	catalog    Catalog
	policy     Policy
	store      Store
	threshold  float64
	retryLimit int
}

// NewMachine wires the conversation core. store may be nil to disable
// persistence.
func NewMachine(catalog Catalog, pol Policy, store Store, opts Options) *Machine {
	threshold := 0.5
	if opts.ConfidenceThreshold != nil {
		threshold = *opts.ConfidenceThreshold
	}
	retryLimit := 2
	if opts.RetryLimit != nil {
		retryLimit = *opts.RetryLimit
	}
	return &Machine{
		registry:   NewRegistry(),
		catalog:    catalog,
		policy:     pol,
		store:      store,
		threshold:  threshold,
		retryLimit: retryLimit,
	}
}

// Registry exposes the session registry for lookups.
func (m *Machine) Registry() *Registry { return m.registry }

// Start validates the survey and respondent, creates a session and returns
// the opening utterance ending in the first question.
func (m *Machine) Start(ctx context.Context, surveyID, employeeID int64) (Reply, error) {
	sv, err := m.catalog.Survey(ctx, surveyID)
	if err != nil {
		return Reply{}, err
	}
	if len(sv.Questions) == 0 {
		return Reply{}, fmt.Errorf("survey %d has no questions: %w", surveyID, ErrNotFound)
	}
	emp, err := m.catalog.Employee(ctx, employeeID)
	if err != nil {
		return Reply{}, err
	}

	s := newSession(NewSessionID(), sv, emp)

	q, idx, skipped := m.policy.NextQuestion(sv.Questions, 0, nil)
	if q == nil {
		return Reply{}, fmt.Errorf("survey %d has no askable questions: %w", surveyID, ErrNotFound)
	}

	s.mu.Lock()
	for _, sq := range skipped {
		s.answers[sq.ID] = ValueSkipped
	}
	s.current = q
	s.index = idx
	s.status = StatusAwaitingResponse
	s.touch()
	s.mu.Unlock()

	if err := m.registry.Add(s); err != nil {
		return Reply{}, err
	}
	m.persistCreate(ctx, s)
	log.Printf("session %s: started survey=%d employee=%d questions=%d", s.ID, surveyID, employeeID, len(sv.Questions))

	prompt := strings.Join([]string{
		policy.FormatGreeting(emp.Name),
		policy.SurveyIntro,
		policy.FormatQuestion(idx+1, q.Prompt()),
	}, "\n\n")
	return Reply{SessionID: s.ID, Prompt: prompt}, nil
}

// SubmitResponse feeds one respondent utterance into the session. Valid only
// while the session awaits a response. transcriptConfidence comes from the
// transcription step; callers submitting typed text pass 1.0.
func (m *Machine) SubmitResponse(ctx context.Context, sessionID, raw string, transcriptConfidence float64) (Reply, error) {
	s, err := m.registry.Get(sessionID)
	if err != nil {
		return Reply{}, err
	}

	// Whole-turn serialization: at most one submit (or reaper transition)
	// per session at a time.
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return Reply{}, ErrSessionExpired
	}
	if s.status != StatusAwaitingResponse || s.current == nil {
		status := s.status
		s.mu.Unlock()
		return Reply{}, fmt.Errorf("submit in %s: %w", status, ErrInvalidState)
	}
	q := *s.current
	idx := s.index
	s.status = StatusInProgress
	s.touch()
	s.mu.Unlock()

	value, interpretConfidence, err := m.policy.Interpret(ctx, q, raw)
	if err != nil {
		// Abandoned while we were interpreting: discard the outcome.
		if s.Status().Terminal() {
			return Reply{}, ErrInvalidState
		}
		m.fail(ctx, s, fmt.Errorf("interpret question %d: %w", q.ID, err))
		return Reply{}, err
	}

	s.mu.Lock()
	if s.status != StatusInProgress {
		// Abandon won the race; last writer does not win.
		s.mu.Unlock()
		return Reply{}, ErrInvalidState
	}

	confidence := transcriptConfidence
	if interpretConfidence < confidence {
		confidence = interpretConfidence
	}
	if value == "" {
		confidence = 0
	}

	if confidence < m.threshold {
		s.attempts++
		if s.attempts <= m.retryLimit {
			attempt := s.attempts
			s.status = StatusAwaitingResponse
			s.touch()
			s.mu.Unlock()
			log.Printf("session %s: low confidence %.2f on question %d, re-prompt attempt %d", s.ID, confidence, q.ID, attempt)
			prompt := policy.RepeatRequest + "\n\n" + policy.FormatQuestion(idx+1, q.Prompt())
			return Reply{SessionID: s.ID, Prompt: prompt, Reprompt: true}, nil
		}
		// Retries exhausted: commit the question as unresolved and move on
		// so recognition failure cannot hold the session open forever.
		log.Printf("session %s: question %d unresolved after %d attempts", s.ID, q.ID, s.attempts)
		value = ValueUnresolved
	}

	turn := s.commitTurn(q, raw, value, confidence)
	s.mu.Unlock()
	m.persistTurn(ctx, s.ID, turn)

	return m.advance(ctx, s, idx, turn)
}

// advance moves the session past the just-answered question and builds the
// next prompt or the completion reply.
func (m *Machine) advance(ctx context.Context, s *Session, answeredIndex int, turn Turn) (Reply, error) {
	next, nidx, skipped := m.policy.NextQuestion(s.Survey.Questions, answeredIndex+1, s.AnswerRecord())

	s.mu.Lock()
	for _, sq := range skipped {
		s.answers[sq.ID] = ValueSkipped
	}
	if next == nil {
		s.status = StatusCompleted
		s.current = nil
		s.index = len(s.Survey.Questions)
		s.touch()
		s.mu.Unlock()
		m.persistStatus(ctx, s, StatusCompleted, "")
		m.registry.ReleaseRespondent(s.Employee.ID, s.ID)
		log.Printf("session %s: completed with %d turns", s.ID, turn.Seq)
		return Reply{SessionID: s.ID, Prompt: policy.Closing, Done: true, Turn: &turn}, nil
	}

	s.current = next
	s.index = nidx
	s.status = StatusAwaitingResponse
	s.touch()
	s.mu.Unlock()

	prompt := policy.AcknowledgeNext + "\n\n" + policy.FormatQuestion(nidx+1, next.Prompt())
	return Reply{SessionID: s.ID, Prompt: prompt, Turn: &turn}, nil
}

// Get returns a read-only snapshot. Expired sessions report ErrNotFound.
func (m *Machine) Get(sessionID string) (Snapshot, error) {
	s, err := m.registry.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	expired := s.expired
	s.mu.Unlock()
	if expired {
		return Snapshot{}, ErrNotFound
	}
	return s.Snapshot(), nil
}

// Results returns the final answer record. Only completed sessions have one.
func (m *Machine) Results(sessionID string) (map[int64]string, error) {
	s, err := m.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status() != StatusCompleted {
		return nil, fmt.Errorf("results before completion: %w", ErrInvalidState)
	}
	return s.AnswerRecord(), nil
}

// Resume finds the respondent's live session, if any.
func (m *Machine) Resume(employeeID int64) (Snapshot, bool) {
	s, ok := m.registry.ActiveForRespondent(employeeID)
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Abandon terminates a session from any non-terminal state. It is safe to
// call while a submit is in flight; the submit detects the transition and
// discards its result.
func (m *Machine) Abandon(ctx context.Context, sessionID, reason string) error {
	s, err := m.registry.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("abandon in %s: %w", s.status, ErrInvalidState)
	}
	s.status = StatusAbandoned
	s.reason = reason
	s.touch()
	s.mu.Unlock()

	m.persistStatus(ctx, s, StatusAbandoned, reason)
	m.registry.ReleaseRespondent(s.Employee.ID, s.ID)
	log.Printf("session %s: abandoned (%s)", s.ID, reason)
	return nil
}

// Fail escalates a session after an external-service failure with no partial
// progress to preserve. Callers that already hold a committed turn for the
// current question must not call this; they report a retryable turn instead.
func (m *Machine) Fail(ctx context.Context, sessionID string, cause error) error {
	s, err := m.registry.Get(sessionID)
	if err != nil {
		return err
	}
	m.fail(ctx, s, cause)
	return nil
}

func (m *Machine) fail(ctx context.Context, s *Session, cause error) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = StatusFailed
	s.reason = cause.Error()
	lastSeq := len(s.turns)
	s.touch()
	s.mu.Unlock()

	m.persistStatus(ctx, s, StatusFailed, cause.Error())
	m.registry.ReleaseRespondent(s.Employee.ID, s.ID)
	log.Printf("session %s: failed after turn %d: %v", s.ID, lastSeq, cause)
}

func (m *Machine) persistCreate(ctx context.Context, s *Session) {
	if m.store == nil {
		return
	}
	snap := s.Snapshot()
	rec := SessionRecord{
		ID:         s.ID,
		SurveyID:   s.Survey.ID,
		EmployeeID: s.Employee.ID,
		Status:     snap.Status,
		CreatedAt:  snap.CreatedAt,
		UpdatedAt:  snap.UpdatedAt,
	}
	if err := m.store.CreateSession(ctx, rec); err != nil {
		log.Printf("session %s: persist create: %v", s.ID, err)
	}
}

func (m *Machine) persistStatus(ctx context.Context, s *Session, status Status, reason string) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateSessionStatus(ctx, s.ID, status, reason); err != nil {
		log.Printf("session %s: persist status %s: %v", s.ID, status, err)
	}
}

func (m *Machine) persistTurn(ctx context.Context, sessionID string, t Turn) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveTurn(ctx, sessionID, t); err != nil {
		log.Printf("session %s: persist turn %d: %v", sessionID, t.Seq, err)
	}
}

// RestoredSession is a persisted session read back at startup.
type RestoredSession struct {
	Record SessionRecord
	Turns  []Turn
}

// Restore rebuilds live sessions from persisted state after a restart and
// returns how many were brought back. Terminal records are left alone.
func (m *Machine) Restore(ctx context.Context, restored []RestoredSession) int {
	n := 0
	for _, r := range restored {
		if r.Record.Status.Terminal() {
			continue
		}
		sv, err := m.catalog.Survey(ctx, r.Record.SurveyID)
		if err != nil {
			log.Printf("session %s: restore: survey %d: %v", r.Record.ID, r.Record.SurveyID, err)
			continue
		}
		emp, err := m.catalog.Employee(ctx, r.Record.EmployeeID)
		if err != nil {
			log.Printf("session %s: restore: employee %d: %v", r.Record.ID, r.Record.EmployeeID, err)
			continue
		}

		s := newSession(r.Record.ID, sv, emp)
		s.createdAt = r.Record.CreatedAt
		for _, t := range r.Turns {
			s.turns = append(s.turns, t)
			s.answers[t.QuestionID] = t.Value
		}
		m.reposition(ctx, s)
		if err := m.registry.Add(s); err != nil {
			log.Printf("session %s: restore: %v", s.ID, err)
			continue
		}
		n++
	}
	if n > 0 {
		log.Printf("restored %d active sessions", n)
	}
	return n
}

// reposition walks the question list to the first unanswered, unskipped
// question and sets the session state accordingly.
func (m *Machine) reposition(ctx context.Context, s *Session) {
	answers := s.AnswerRecord()
	idx := 0
	for {
		q, nidx, skipped := m.policy.NextQuestion(s.Survey.Questions, idx, answers)
		s.mu.Lock()
		for _, sq := range skipped {
			s.answers[sq.ID] = ValueSkipped
			answers[sq.ID] = ValueSkipped
		}
		s.mu.Unlock()
		if q == nil {
			s.mu.Lock()
			s.status = StatusCompleted
			s.current = nil
			s.index = len(s.Survey.Questions)
			s.mu.Unlock()
			m.persistStatus(ctx, s, StatusCompleted, "")
			return
		}
		if _, answered := answers[q.ID]; answered {
			idx = nidx + 1
			continue
		}
		s.mu.Lock()
		s.current = q
		s.index = nidx
		s.status = StatusAwaitingResponse
		s.mu.Unlock()
		return
	}
}
