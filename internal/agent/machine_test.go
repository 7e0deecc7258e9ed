package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/policy"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/survey"
)

type memCatalog struct {
	surveys   map[int64]survey.Survey
	employees map[int64]survey.Employee
}

func (c *memCatalog) Survey(_ context.Context, id int64) (survey.Survey, error) {
	s, ok := c.surveys[id]
	if !ok {
		return survey.Survey{}, fmt.Errorf("survey %d: %w", id, ErrNotFound)
	}
	return s, nil
}

func (c *memCatalog) Employee(_ context.Context, id int64) (survey.Employee, error) {
	e, ok := c.employees[id]
	if !ok {
		return survey.Employee{}, fmt.Errorf("employee %d: %w", id, ErrNotFound)
	}
	return e, nil
}

func twoQuestionCatalog() *memCatalog {
	return &memCatalog{
		surveys: map[int64]survey.Survey{
			1: {
				ID:    1,
				Title: "Workplace Survey",
				Questions: []survey.Question{
					{ID: 10, SurveyID: 1, Order: 1, Text: "Are you satisfied?", Type: survey.TypeYesNo, Required: true},
					{ID: 11, SurveyID: 1, Order: 2, Text: "Where do you work?", Type: survey.TypeText, Required: true},
				},
			},
		},
		employees: map[int64]survey.Employee{
			7: {ID: 7, Name: "احمد", NameEn: "Ahmed"},
		},
	}
}

func newTestMachine(c *memCatalog) *Machine {
	return NewMachine(c, policy.NewEngine(nil), nil, Options{})
}

func TestStart_UnknownSurveyAndEmployee(t *testing.T) {
	m := newTestMachine(twoQuestionCatalog())
	if _, err := m.Start(context.Background(), 99, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound for unknown survey, got %v", err)
	}
	if _, err := m.Start(context.Background(), 1, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound for unknown employee, got %v", err)
	}
}

func TestStart_EmptySurvey(t *testing.T) {
	c := twoQuestionCatalog()
	c.surveys[2] = survey.Survey{ID: 2, Title: "Empty"}
	m := newTestMachine(c)
	if _, err := m.Start(context.Background(), 2, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound for empty survey, got %v", err)
	}
}

func TestEndToEnd_TwoQuestionSurvey(t *testing.T) {
	m := newTestMachine(twoQuestionCatalog())
	ctx := context.Background()

	reply, err := m.Start(ctx, 1, 7)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(reply.Prompt, "Are you satisfied?") {
		t.Fatalf("first prompt must carry question 1, got %q", reply.Prompt)
	}

	r1, err := m.SubmitResponse(ctx, reply.SessionID, "yes", 1.0)
	if err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	if r1.Done || r1.Turn == nil {
		t.Fatalf("expected next prompt with committed turn, got %+v", r1)
	}
	if r1.Turn.Seq != 1 || r1.Turn.Value != "yes" || r1.Turn.Confidence != 1.0 {
		t.Fatalf("unexpected turn 1: %+v", r1.Turn)
	}
	if !strings.Contains(r1.Prompt, "Where do you work?") {
		t.Fatalf("expected question 2 prompt, got %q", r1.Prompt)
	}

	r2, err := m.SubmitResponse(ctx, reply.SessionID, "I work in the warehouse", 1.0)
	if err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if !r2.Done {
		t.Fatalf("expected completion signal, got %+v", r2)
	}
	if r2.Turn.Seq != 2 {
		t.Fatalf("expected turn seq 2, got %d", r2.Turn.Seq)
	}

	snap, err := m.Get(reply.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}

	record, err := m.Results(reply.SessionID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if record[10] != "yes" || record[11] != "I work in the warehouse" {
		t.Fatalf("unexpected answer record %v", record)
	}
}

func TestTurnSequenceGapFree(t *testing.T) {
	m := newTestMachine(twoQuestionCatalog())
	ctx := context.Background()
	reply, _ := m.Start(ctx, 1, 7)
	_, _ = m.SubmitResponse(ctx, reply.SessionID, "yes", 1.0)
	_, _ = m.SubmitResponse(ctx, reply.SessionID, "warehouse", 1.0)

	snap, _ := m.Get(reply.SessionID)
	for i, turn := range snap.Turns {
		if turn.Seq != i+1 {
			t.Fatalf("turn %d has seq %d, want %d", i, turn.Seq, i+1)
		}
	}
}

func TestSubmit_InvalidAfterCompletion(t *testing.T) {
	m := newTestMachine(twoQuestionCatalog())
	ctx := context.Background()
	reply, _ := m.Start(ctx, 1, 7)
	_, _ = m.SubmitResponse(ctx, reply.SessionID, "yes", 1.0)
	_, _ = m.SubmitResponse(ctx, reply.SessionID, "warehouse", 1.0)

	if _, err := m.SubmitResponse(ctx, reply.SessionID, "extra", 1.0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected InvalidState after completion, got %v", err)
	}
}

func TestRepromptBound_UnresolvedAdvance(t *testing.T) {
	m := newTestMachine(twoQuestionCatalog())
	ctx := context.Background()
	reply, _ := m.Start(ctx, 1, 7)

	// Zero transcript confidence models a dead microphone. Default retry
	// limit is 2, so attempts 1 and 2 re-prompt and attempt 3 advances.
	for attempt := 1; attempt <= 2; attempt++ {
		r, err := m.SubmitResponse(ctx, reply.SessionID, "yes", 0.0)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if !r.Reprompt || r.Turn != nil {
			t.Fatalf("attempt %d: expected re-prompt without turn, got %+v", attempt, r)
		}
	}

	r, err := m.SubmitResponse(ctx, reply.SessionID, "yes", 0.0)
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if r.Reprompt {
		t.Fatalf("expected advance after retries exhausted")
	}
	if r.Turn == nil || r.Turn.Value != ValueUnresolved {
		t.Fatalf("expected unresolved turn, got %+v", r.Turn)
	}
	if !strings.Contains(r.Prompt, "Where do you work?") {
		t.Fatalf("expected question 2 after unresolved advance, got %q", r.Prompt)
	}
}

func TestSkipConditionedQuestionNeedsNoTurn(t *testing.T) {
	c := twoQuestionCatalog()
	sv := c.surveys[1]
	sv.Questions = []survey.Question{
		{ID: 10, SurveyID: 1, Order: 1, Text: "Do you commute?", Type: survey.TypeYesNo},
		{ID: 11, SurveyID: 1, Order: 2, Text: "How long is the commute?", Type: survey.TypeText,
			SkipIf: &survey.SkipRule{QuestionID: 10, Equals: "no"}},
		{ID: 12, SurveyID: 1, Order: 3, Text: "Anything else?", Type: survey.TypeText},
	}
	c.surveys[1] = sv
	m := newTestMachine(c)
	ctx := context.Background()

	reply, _ := m.Start(ctx, 1, 7)
	r1, err := m.SubmitResponse(ctx, reply.SessionID, "no", 1.0)
	if err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	if !strings.Contains(r1.Prompt, "Anything else?") {
		t.Fatalf("expected skip to question 3, got %q", r1.Prompt)
	}

	r2, err := m.SubmitResponse(ctx, reply.SessionID, "no thanks", 1.0)
	if err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if !r2.Done {
		t.Fatalf("expected completion, got %+v", r2)
	}

	record, err := m.Results(reply.SessionID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if record[11] != ValueSkipped {
		t.Fatalf("expected skip sentinel for question 11, got %q", record[11])
	}
	snap, _ := m.Get(reply.SessionID)
	if len(snap.Turns) != 2 {
		t.Fatalf("skipped question must not produce a turn, got %d turns", len(snap.Turns))
	}
}

func TestAbandonMidFlow(t *testing.T) {
	m := newTestMachine(twoQuestionCatalog())
	ctx := context.Background()
	reply, _ := m.Start(ctx, 1, 7)

	if err := m.Abandon(ctx, reply.SessionID, "caller hung up"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	snap, _ := m.Get(reply.SessionID)
	if snap.Status != StatusAbandoned || snap.Reason != "caller hung up" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, err := m.SubmitResponse(ctx, reply.SessionID, "yes", 1.0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected InvalidState after abandon, got %v", err)
	}
	if err := m.Abandon(ctx, reply.SessionID, "again"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected InvalidState on double abandon, got %v", err)
	}
}

func TestStart_SecondSessionForRespondentRefused(t *testing.T) {
	m := newTestMachine(twoQuestionCatalog())
	ctx := context.Background()

	first, err := m.Start(ctx, 1, 7)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Start(ctx, 1, 7); !errors.Is(err, ErrActiveSessionExists) {
		t.Fatalf("expected ErrActiveSessionExists, got %v", err)
	}

	// Once the live session ends the respondent can start again.
	if err := m.Abandon(ctx, first.SessionID, "hung up"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if _, err := m.Start(ctx, 1, 7); err != nil {
		t.Fatalf("start after abandon: %v", err)
	}
}

func TestStart_ConcurrentStartsOneWinner(t *testing.T) {
	m := newTestMachine(twoQuestionCatalog())
	ctx := context.Background()

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Start(ctx, 1, 7)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, refused := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrActiveSessionExists):
			refused++
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	if ok != 1 || refused != n-1 {
		t.Fatalf("got %d winners and %d refusals, want 1 and %d", ok, refused, n-1)
	}
}

func TestZeroRetryLimitAndThresholdAreHonored(t *testing.T) {
	ctx := context.Background()

	// RETRY_LIMIT=0: the first low-confidence attempt commits unresolved,
	// no re-prompt.
	zero := 0
	m := NewMachine(twoQuestionCatalog(), policy.NewEngine(nil), nil, Options{RetryLimit: &zero})
	reply, err := m.Start(ctx, 1, 7)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	r, err := m.SubmitResponse(ctx, reply.SessionID, "yes", 0.0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if r.Reprompt || r.Turn == nil || r.Turn.Value != ValueUnresolved {
		t.Fatalf("retry limit 0 must advance immediately as unresolved, got %+v", r)
	}

	// CONFIDENCE_THRESHOLD=0: every interpretation is accepted.
	noThreshold := 0.0
	m2 := NewMachine(twoQuestionCatalog(), policy.NewEngine(nil), nil, Options{ConfidenceThreshold: &noThreshold})
	reply2, err := m2.Start(ctx, 1, 7)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	r2, err := m2.SubmitResponse(ctx, reply2.SessionID, "yes", 0.0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if r2.Reprompt || r2.Turn == nil || r2.Turn.Value != "yes" {
		t.Fatalf("threshold 0 must commit the interpretation, got %+v", r2)
	}
}

// slowPolicy delays interpretation so tests can overlap concurrent submits.
type slowPolicy struct {
	*policy.Engine
	delay   time.Duration
	release chan struct{} // when set, Interpret blocks until closed
}

func (p *slowPolicy) Interpret(ctx context.Context, q survey.Question, raw string) (string, float64, error) {
	if p.release != nil {
		<-p.release
	} else {
		time.Sleep(p.delay)
	}
	return p.Engine.Interpret(ctx, q, raw)
}

func TestConcurrentSubmitsSerialized(t *testing.T) {
	c := twoQuestionCatalog()
	pol := &slowPolicy{Engine: policy.NewEngine(nil), delay: 30 * time.Millisecond}
	m := NewMachine(c, pol, nil, Options{})
	ctx := context.Background()

	reply, err := m.Start(ctx, 1, 7)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.SubmitResponse(ctx, reply.SessionID, "yes", 1.0)
		}()
	}
	wg.Wait()

	s, err := m.Registry().Get(reply.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	snap := s.Snapshot()
	seen := make(map[int]bool)
	seenQ := make(map[int64]map[int]bool)
	for _, turn := range snap.Turns {
		if seen[turn.Seq] {
			t.Fatalf("duplicate turn seq %d", turn.Seq)
		}
		seen[turn.Seq] = true
		if seenQ[turn.QuestionID] == nil {
			seenQ[turn.QuestionID] = make(map[int]bool)
		}
		if seenQ[turn.QuestionID][turn.Seq] {
			t.Fatalf("duplicate (question,seq) pair %d/%d", turn.QuestionID, turn.Seq)
		}
		seenQ[turn.QuestionID][turn.Seq] = true
	}
	for i, turn := range snap.Turns {
		if turn.Seq != i+1 {
			t.Fatalf("turn seq not gap-free: %v", snap.Turns)
		}
	}
}

func TestInProgressVisibleDuringTurnProcessing(t *testing.T) {
	c := twoQuestionCatalog()
	release := make(chan struct{})
	pol := &slowPolicy{Engine: policy.NewEngine(nil), release: release}
	m := NewMachine(c, pol, nil, Options{})
	ctx := context.Background()

	reply, _ := m.Start(ctx, 1, 7)
	snap, _ := m.Get(reply.SessionID)
	if snap.Status != StatusAwaitingResponse {
		t.Fatalf("after start: %s", snap.Status)
	}

	done := make(chan struct{})
	go func() {
		_, _ = m.SubmitResponse(ctx, reply.SessionID, "yes", 1.0)
		close(done)
	}()
	// Wait for the submit to enter interpretation.
	deadline := time.After(2 * time.Second)
	for {
		snap, _ = m.Get(reply.SessionID)
		if snap.Status == StatusInProgress {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("session never reported in_progress, stuck at %s", snap.Status)
		case <-time.After(time.Millisecond):
		}
	}

	close(release)
	<-done
	snap, _ = m.Get(reply.SessionID)
	if snap.Status != StatusAwaitingResponse {
		t.Fatalf("after turn: %s", snap.Status)
	}
}

func TestAbandonDuringInFlightSubmitDiscardsResult(t *testing.T) {
	c := twoQuestionCatalog()
	release := make(chan struct{})
	pol := &slowPolicy{Engine: policy.NewEngine(nil), release: release}
	m := NewMachine(c, pol, nil, Options{})
	ctx := context.Background()

	reply, _ := m.Start(ctx, 1, 7)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.SubmitResponse(ctx, reply.SessionID, "yes", 1.0)
		errCh <- err
	}()
	// Give the submit time to enter interpretation, then abandon.
	time.Sleep(20 * time.Millisecond)
	if err := m.Abandon(ctx, reply.SessionID, "supervisor cancel"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	close(release)

	if err := <-errCh; !errors.Is(err, ErrInvalidState) {
		t.Fatalf("in-flight submit must discard its result, got %v", err)
	}
	snap, _ := m.Get(reply.SessionID)
	if len(snap.Turns) != 0 {
		t.Fatalf("no turn may be committed after abandon, got %d", len(snap.Turns))
	}
	if snap.Status != StatusAbandoned {
		t.Fatalf("expected abandoned, got %s", snap.Status)
	}
}

// failingPolicy simulates an LLM backend outage during interpretation.
type failingPolicy struct{ *policy.Engine }

func (p *failingPolicy) Interpret(ctx context.Context, q survey.Question, raw string) (string, float64, error) {
	return "", 0, errors.New("ollama: service unavailable")
}

func TestInterpretFailureFailsSession(t *testing.T) {
	m := NewMachine(twoQuestionCatalog(), &failingPolicy{policy.NewEngine(nil)}, nil, Options{})
	ctx := context.Background()

	reply, _ := m.Start(ctx, 1, 7)
	if _, err := m.SubmitResponse(ctx, reply.SessionID, "maybe", 1.0); err == nil {
		t.Fatalf("expected error from failing interpreter")
	}
	snap, _ := m.Get(reply.SessionID)
	if snap.Status != StatusFailed {
		t.Fatalf("expected failed with no partial progress, got %s", snap.Status)
	}
}

func TestResume(t *testing.T) {
	m := newTestMachine(twoQuestionCatalog())
	ctx := context.Background()

	if _, ok := m.Resume(7); ok {
		t.Fatalf("no session yet, resume must miss")
	}
	reply, _ := m.Start(ctx, 1, 7)
	snap, ok := m.Resume(7)
	if !ok || snap.ID != reply.SessionID {
		t.Fatalf("expected resume to find %s, got %+v ok=%v", reply.SessionID, snap, ok)
	}
	_ = m.Abandon(ctx, reply.SessionID, "done")
	if _, ok := m.Resume(7); ok {
		t.Fatalf("terminal session must not resume")
	}
}

func TestResults_OnlyAfterCompletion(t *testing.T) {
	m := newTestMachine(twoQuestionCatalog())
	ctx := context.Background()
	reply, _ := m.Start(ctx, 1, 7)
	if _, err := m.Results(reply.SessionID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected InvalidState before completion, got %v", err)
	}
}

func TestRestore_ContinuesMidSurvey(t *testing.T) {
	m := newTestMachine(twoQuestionCatalog())
	ctx := context.Background()

	restored := []RestoredSession{
		{
			Record: SessionRecord{ID: "restored-1", SurveyID: 1, EmployeeID: 7, Status: StatusAwaitingResponse, CreatedAt: time.Now().Add(-time.Minute)},
			Turns:  []Turn{{Seq: 1, QuestionID: 10, Raw: "yes", Value: "yes", Confidence: 1.0}},
		},
		{
			Record: SessionRecord{ID: "restored-2", SurveyID: 1, EmployeeID: 8, Status: StatusAbandoned},
		},
	}
	if n := m.Restore(ctx, restored); n != 1 {
		t.Fatalf("expected 1 restored session, got %d", n)
	}

	snap, err := m.Get("restored-1")
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if snap.Status != StatusAwaitingResponse || snap.CurrentQuestion == nil || snap.CurrentQuestion.ID != 11 {
		t.Fatalf("restored session must resume at question 11, got %+v", snap)
	}

	r, err := m.SubmitResponse(ctx, "restored-1", "warehouse", 1.0)
	if err != nil {
		t.Fatalf("submit after restore: %v", err)
	}
	if !r.Done || r.Turn.Seq != 2 {
		t.Fatalf("expected completion with turn 2, got %+v", r)
	}
}
