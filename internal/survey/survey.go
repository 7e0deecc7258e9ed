package survey

// QuestionType describes how an answer should be interpreted.
type QuestionType string

const (
	TypeText   QuestionType = "text"
	TypeYesNo  QuestionType = "yes_no"
	TypeChoice QuestionType = "choice"
	TypeNumber QuestionType = "number"
)

// Survey is an ordered questionnaire. Immutable once loaded for a session.
type Survey struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	TitleUr       string     `json:"title_ur,omitempty"`
	Description   string     `json:"description,omitempty"`
	DescriptionUr string     `json:"description_ur,omitempty"`
	Questions     []Question `json:"questions,omitempty"`
}

// Question is a single survey item. SkipIf, when set, suppresses the question
// based on a prior answer.
type Question struct {
	ID       int64        `json:"id"`
	SurveyID int64        `json:"survey_id"`
	Order    int          `json:"order"`
	Text     string       `json:"text"`
	TextUr   string       `json:"text_ur,omitempty"`
	Type     QuestionType `json:"type"`
	Required bool         `json:"required"`
	Choices  []string     `json:"choices,omitempty"`
	SkipIf   *SkipRule    `json:"skip_if,omitempty"`
	HelpText string       `json:"help_text,omitempty"`
}

// SkipRule suppresses a question when a prior question's answer equals Value.
type SkipRule struct {
	QuestionID int64  `json:"question_id"`
	Equals     string `json:"equals"`
}

// Employee is a survey respondent.
type Employee struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	NameEn      string `json:"name_en,omitempty"`
	Designation string `json:"designation,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Prompt returns the spoken form of the question, preferring Urdu text.
func (q Question) Prompt() string {
	if q.TextUr != "" {
		return q.TextUr
	}
	return q.Text
}

// Skipped reports whether the question should be skipped given the answers
// collected so far (question id -> normalized value).
func (q Question) Skipped(answers map[int64]string) bool {
	if q.SkipIf == nil {
		return false
	}
	v, ok := answers[q.SkipIf.QuestionID]
	return ok && v == q.SkipIf.Equals
}
