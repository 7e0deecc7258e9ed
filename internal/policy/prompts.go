package policy

import "fmt"

// Agent utterances, Urdu first. These mirror the scripted call-agent flow.

const (
	Greeting = "السلام علیکم! میں FOS سروے سینٹر سے بول رہا ہوں۔\nکیا آپ %s صاحب سے بات ہو رہی ہے؟"

	SurveyIntro = "آج میں آپ سے کچھ سوالات پوچھنا چاہتا ہوں۔\nآپ کے جوابات مکمل طور پر رازدارانہ رہیں گے اور یہ ہماری کمپنی کو بہتر بنانے میں مدد کریں گے۔\nآئیے شروع کرتے ہیں۔"

	AcknowledgeNext = "شکریہ، اگلا سوال سنیں۔"

	RepeatRequest = "براہ کرم دوبارہ بتائیں، مجھے آپ کی بات واضح نہیں سمجھ آئی۔"

	Skipping = "ٹھیک ہے، آگے بڑھتے ہیں۔"

	Closing = "بہت شکریہ آپ کے وقت کا۔ آپ کے جوابات محفوظ ہو گئے ہیں۔\nاگر کوئی شکایت ہو تو FOS ہیلپ لائن پر کال کریں: 0800-91299\nاللہ حافظ!"

	CallLater = "معذرت، ابھی آپ مصروف لگ رہے ہیں۔ ہم بعد میں دوبارہ رابطہ کریں گے۔\nاللہ حافظ!"

	TechnicalError = "معذرت، کچھ تکنیکی مسئلہ ہو گیا۔ ہم جلد دوبارہ رابطہ کریں گے۔\nاللہ حافظ!"
)

// FormatGreeting fills the respondent name into the greeting.
func FormatGreeting(name string) string { return fmt.Sprintf(Greeting, name) }

// FormatQuestion renders a numbered question prompt.
func FormatQuestion(number int, text string) string {
	return fmt.Sprintf("سوال نمبر %d: %s", number, text)
}

// interpretPromptTemplate asks the model for a strict-JSON verdict. The value
// vocabulary depends on the question type and is spelled out per call.
const interpretPromptTemplate = `You are grading one answer in a spoken Urdu workplace survey.
Question: %s
Answer type: %s
%sRespondent said: %q
Reply with JSON only: {"value": <normalized answer>, "confidence": <0..1>}.
For yes_no use "yes" or "no". For choice use exactly one of the listed options.
For number use digits only. For text return the cleaned-up answer verbatim.`
