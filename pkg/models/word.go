package models

// Word is a catalog item delivered to subscribers
type Word struct {
	ID          int64  `json:"id" db:"id"`
	Word        string `json:"word" db:"word"`
	Category    string `json:"category" db:"category"` // Part of speech, used to pick quiz distractors
	Translation string `json:"translation" db:"translation"`
	Annotation  string `json:"annotation" db:"annotation"` // Usage notes and examples
}
