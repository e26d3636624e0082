package domain

// Profile is the seeker's birth profile. Only BirthDate feeds the sun sign.
type Profile struct {
	Name       string `json:"name"`
	BirthDate  string `json:"birthDate"`
	BirthTime  string `json:"birthTime,omitempty"`
	Gender     string `json:"gender,omitempty"`
	BirthPlace string `json:"birthPlace,omitempty"`
}

// Question is a free-text question with its category.
type Question struct {
	Text     string   `json:"question"`
	Category Category `json:"category"`
}

// MaxQuestionLength bounds Question.Text in runes.
const MaxQuestionLength = 200
