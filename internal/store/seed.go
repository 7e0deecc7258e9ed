package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/survey"
)

// Seed loads surveys.json, questions.json and employees.json from dir into
// the database. Rows are upserted by id, so re-seeding on startup is safe.
// Missing files are skipped with a warning.
func (s *Store) Seed(ctx context.Context, dir string) error {
	var surveys []survey.Survey
	if ok, err := readSeed(filepath.Join(dir, "surveys.json"), &surveys); err != nil {
		return err
	} else if ok {
		for _, sv := range surveys {
			if _, err := s.db.ExecContext(ctx,
				`INSERT INTO surveys (id, title, title_ur, description, description_ur)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET
				   title = excluded.title, title_ur = excluded.title_ur,
				   description = excluded.description, description_ur = excluded.description_ur`,
				sv.ID, sv.Title, sv.TitleUr, sv.Description, sv.DescriptionUr); err != nil {
				return fmt.Errorf("seed survey %d: %w", sv.ID, err)
			}
		}
	}

	var questions []survey.Question
	if ok, err := readSeed(filepath.Join(dir, "questions.json"), &questions); err != nil {
		return err
	} else if ok {
		for _, q := range questions {
			choices := ""
			if len(q.Choices) > 0 {
				b, err := json.Marshal(q.Choices)
				if err != nil {
					return fmt.Errorf("seed question %d: %w", q.ID, err)
				}
				choices = string(b)
			}
			var skipQID int64
			var skipEq string
			if q.SkipIf != nil {
				skipQID, skipEq = q.SkipIf.QuestionID, q.SkipIf.Equals
			}
			required := 0
			if q.Required {
				required = 1
			}
			if _, err := s.db.ExecContext(ctx,
				`INSERT INTO questions (id, survey_id, question_order, text, text_ur, type, required, choices, skip_question_id, skip_equals, help_text)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET
				   survey_id = excluded.survey_id, question_order = excluded.question_order,
				   text = excluded.text, text_ur = excluded.text_ur, type = excluded.type,
				   required = excluded.required, choices = excluded.choices,
				   skip_question_id = excluded.skip_question_id, skip_equals = excluded.skip_equals,
				   help_text = excluded.help_text`,
				q.ID, q.SurveyID, q.Order, q.Text, q.TextUr, string(q.Type), required,
				choices, skipQID, skipEq, q.HelpText); err != nil {
				return fmt.Errorf("seed question %d: %w", q.ID, err)
			}
		}
	}

	var employees []survey.Employee
	if ok, err := readSeed(filepath.Join(dir, "employees.json"), &employees); err != nil {
		return err
	} else if ok {
		for _, e := range employees {
			if _, err := s.db.ExecContext(ctx,
				`INSERT INTO employees (id, name, name_en, designation, branch, phone)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET
				   name = excluded.name, name_en = excluded.name_en,
				   designation = excluded.designation, branch = excluded.branch,
				   phone = excluded.phone`,
				e.ID, e.Name, e.NameEn, e.Designation, e.Branch, e.Phone); err != nil {
				return fmt.Errorf("seed employee %d: %w", e.ID, err)
			}
		}
	}
	return nil
}

func readSeed(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Printf("seed: %s not found, skipping", path)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}
