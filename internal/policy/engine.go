// Package policy decides which question comes next and turns raw respondent
// utterances into normalized answer values.
package policy

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/llm"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/survey"
)

// Interpreter is the LLM-backed fallback for answers the deterministic
// matcher cannot resolve.
type Interpreter interface {
	Interpret(ctx context.Context, prompt string) (llm.Verdict, error)
}

// Engine evaluates skip rules and interprets answers.
type Engine struct {
	interpreter Interpreter
}

// NewEngine builds a policy engine. interpreter may be nil, in which case
// unmatched answers come back with zero confidence instead of an LLM verdict.
func NewEngine(interpreter Interpreter) *Engine {
	return &Engine{interpreter: interpreter}
}

// NextQuestion returns the first question at or after index that is not
// suppressed by a skip rule, along with its index. Questions skipped on the
// way are reported so the caller can record their sentinel answers. A nil
// question signals survey completion.
func (e *Engine) NextQuestion(questions []survey.Question, index int, answers map[int64]string) (*survey.Question, int, []survey.Question) {
	var skipped []survey.Question
	for i := index; i < len(questions); i++ {
		q := questions[i]
		if q.Skipped(answers) {
			log.Printf("policy: skipping question %d (rule on question %d)", q.ID, q.SkipIf.QuestionID)
			skipped = append(skipped, q)
			continue
		}
		return &q, i, skipped
	}
	return nil, len(questions), skipped
}

// Interpret normalizes a raw transcript for the question. Deterministic
// matching is tried first and yields confidence 1.0; everything else falls
// back to the LLM.
func (e *Engine) Interpret(ctx context.Context, q survey.Question, raw string) (string, float64, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", 0, nil
	}

	switch q.Type {
	case survey.TypeYesNo:
		if v, ok := matchYesNo(text); ok {
			return v, 1.0, nil
		}
	case survey.TypeChoice:
		if v, ok := matchChoice(text, q.Choices); ok {
			return v, 1.0, nil
		}
	case survey.TypeNumber:
		if v, ok := matchNumber(text); ok {
			return v, 1.0, nil
		}
	case survey.TypeText, "":
		// Free text is taken verbatim; the transcript confidence governs.
		return text, 1.0, nil
	}

	if e.interpreter == nil {
		return text, 0, nil
	}
	verdict, err := e.interpreter.Interpret(ctx, buildInterpretPrompt(q, text))
	if err != nil {
		return "", 0, err
	}
	return verdict.Value, verdict.Confidence, nil
}

var yesWords = []string{"yes", "yeah", "haan", "han", "ji", "jee", "جی", "ہاں", "جی ہاں", "بالکل"}
var noWords = []string{"no", "nope", "nahi", "nahin", "نہیں", "نا", "جی نہیں"}

// tokens splits an utterance into lowercase words with punctuation trimmed,
// so matching happens on word boundaries rather than raw substrings
// ("جانا" must not match the negation "نا").
func tokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!؟?،؛:;")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// matchPhrase reports whether phrase occurs in toks as consecutive whole
// words, returning its length in words.
func matchPhrase(toks []string, phrase string) (int, bool) {
	parts := strings.Fields(phrase)
	for i := 0; i+len(parts) <= len(toks); i++ {
		hit := true
		for j, p := range parts {
			if toks[i+j] != p {
				hit = false
				break
			}
		}
		if hit {
			return len(parts), true
		}
	}
	return 0, false
}

func longestMatch(toks []string, words []string) int {
	best := 0
	for _, w := range words {
		if n, ok := matchPhrase(toks, w); ok && n > best {
			best = n
		}
	}
	return best
}

// matchYesNo resolves polarity by the longest matched phrase, so "جی نہیں"
// beats its embedded "جی". Utterances matching both polarities equally
// ("yes, no doubt at all") are ambiguous and left to the LLM.
func matchYesNo(text string) (string, bool) {
	toks := tokens(text)
	yes := longestMatch(toks, yesWords)
	no := longestMatch(toks, noWords)
	switch {
	case yes > no:
		return "yes", true
	case no > yes:
		return "no", true
	}
	return "", false
}

// matchChoice accepts an utterance naming exactly one choice as whole words.
// Zero or multiple matches are ambiguous.
func matchChoice(text string, choices []string) (string, bool) {
	toks := tokens(text)
	matched := ""
	for _, c := range choices {
		if _, ok := matchPhrase(toks, strings.ToLower(c)); ok {
			if matched != "" {
				return "", false
			}
			matched = c
		}
	}
	return matched, matched != ""
}

func matchNumber(text string) (string, bool) {
	for _, field := range strings.Fields(text) {
		cleaned := strings.Trim(field, ".,!؟?")
		if n, err := strconv.Atoi(cleaned); err == nil {
			return strconv.Itoa(n), true
		}
	}
	return "", false
}

func buildInterpretPrompt(q survey.Question, text string) string {
	var choiceLine string
	if len(q.Choices) > 0 {
		choiceLine = "Options: " + strings.Join(q.Choices, ", ") + "\n"
	}
	typ := string(q.Type)
	if typ == "" {
		typ = string(survey.TypeText)
	}
	return fmt.Sprintf(interpretPromptTemplate, q.Prompt(), typ, choiceLine, text)
}
