package oracle

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/answerbook/internal/domain"
)

// Token budgets for the streamed variants.
const (
	answerStreamMaxTokens = 300
	askStreamMaxTokens    = 200
)

// HintMarker opens the astro hint in streamed answers.
const HintMarker = "🌟"

var categoryTopics = map[domain.Category]string{
	domain.CategoryLove:          "regarding matters of love and relationships",
	domain.CategoryCareer:        "regarding career and work endeavors",
	domain.CategoryHealth:        "regarding physical and mental well-being",
	domain.CategoryMoney:         "regarding fortune and financial matters",
	domain.CategoryRelationships: "regarding family, friends and the people around them",
	domain.CategoryRandom:        "regarding life and the future",
}

func categoryTopic(c domain.Category) string {
	if t, ok := categoryTopics[c]; ok {
		return t
	}
	return categoryTopics[domain.CategoryRandom]
}

func seekerLines(p domain.Profile, sign string) string {
	var who strings.Builder
	who.WriteString("- A ")
	if p.Name != "" {
		fmt.Fprintf(&who, "seeker named %s", p.Name)
	} else {
		who.WriteString("seeker")
	}
	switch strings.ToUpper(p.Gender) {
	case "M":
		who.WriteString(" (male)")
	case "F":
		who.WriteString(" (female)")
	}

	birth := "- Birth date: " + p.BirthDate
	if p.BirthTime != "" {
		birth += ", birth time " + p.BirthTime
	}
	if p.BirthPlace != "" {
		birth += ", born in " + p.BirthPlace
	}
	return who.String() + "\n- Sun sign: " + sign + "\n" + birth
}

// AnswerReply is the JSON shape requested by AnswerPrompt.
type AnswerReply struct {
	Answer    string `json:"answer"`
	AstroHint string `json:"astroHint"`
}

// AnswerPrompt asks for a JSON answer plus astro hint.
func AnswerPrompt(p domain.Profile, q domain.Question, sign string) Prompt {
	return Prompt{User: fmt.Sprintf(`You are a mystical astrologer who keeps the Book of Answers.

Seeker:
%s

The seeker asks %s: %q

1. Answer the question in a poetic, mystical voice (40-60 words) as "answer".
2. Give an insight drawn from the seeker's sun sign, naming the sign (40-60 words) as "astroHint".

Reply with a single JSON object and nothing else:
{"answer": "...", "astroHint": "As %s, ..."}`,
		seekerLines(p, sign), categoryTopic(q.Category), q.Text, sign)}
}

// AnswerStreamPrompt asks for plain text: the answer, a blank line, then a
// hint that starts with HintMarker.
func AnswerStreamPrompt(p domain.Profile, q domain.Question, sign string) Prompt {
	return Prompt{
		MaxTokens: answerStreamMaxTokens,
		User: fmt.Sprintf(`You are a mystical astrologer who keeps the Book of Answers.

Seeker:
%s

The seeker asks %s: %q

First give your answer (40-60 words, poetic and mystical).
Then, after a blank line, give an insight beginning with "%s As %s, " (40-60 words).
Write plain text only, no JSON.`,
			seekerLines(p, sign), categoryTopic(q.Category), q.Text, HintMarker, sign),
	}
}

// SplitStreamed separates a streamed answer from its hint.
func SplitStreamed(text string) (answer, hint string) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, HintMarker); i >= 0 {
		return strings.TrimSpace(text[:i]), strings.TrimSpace(text[i+len(HintMarker):])
	}
	if before, after, ok := strings.Cut(text, "\n\n"); ok {
		return strings.TrimSpace(before), strings.TrimSpace(after)
	}
	return text, ""
}

// AskPrompt asks a question-only oracle for a short answer.
func AskPrompt(question string, stream bool) Prompt {
	p := Prompt{User: fmt.Sprintf(`You are the Book of Answers, a voice of old wisdom.

The seeker asks: %q

Reply in no more than 50 words, in the voice of an ancient oracle.
Never answer with a bare "yes" or "no"; speak in images and philosophy that invite reflection.`, question)}
	if stream {
		p.MaxTokens = askStreamMaxTokens
	}
	return p
}

// FortuneReply is the JSON shape requested by FortunePrompt.
type FortuneReply struct {
	Fortune     string `json:"fortune"`
	LuckyNumber int    `json:"luckyNumber"`
	LuckyColor  string `json:"luckyColor"`
	Advice      string `json:"advice"`
}

// FortunePrompt asks for today's fortune as JSON.
func FortunePrompt(name, birthDate string, today time.Time) Prompt {
	var seeker strings.Builder
	if name != "" {
		fmt.Fprintf(&seeker, "Seeker's name: %s\n", name)
	}
	if birthDate != "" {
		fmt.Fprintf(&seeker, "Birth date: %s\n", birthDate)
	}
	return Prompt{User: fmt.Sprintf(`You are a fortune teller who keeps old secrets. Give the seeker their fortune for %s.

%s
Reply with a single JSON object and nothing else:
{
  "fortune": "overview of the day (30-50 words, poetic)",
  "luckyNumber": an integer between 1 and 99,
  "luckyColor": "a color",
  "advice": "guidance for the day (20-30 words)"
}`, today.Format("January 2, 2006"), seeker.String())}
}
