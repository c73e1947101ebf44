package models

// AnswerStats counts quiz answers given by a subscriber for one word
type AnswerStats struct {
	SubscriberID int64 `json:"subscriber_id" db:"subscriber_id"`
	WordID       int64 `json:"word_id" db:"word_id"`
	Correct      int   `json:"correct" db:"correct"`
	Incorrect    int   `json:"incorrect" db:"incorrect"`
}

// Progress summarizes a subscriber's position in the current catalog cycle
type Progress struct {
	SubscriberID int64 `json:"subscriber_id"`
	Seen         int   `json:"seen"`
	Total        int   `json:"total"`
	Flagged      int   `json:"flagged"`
	Correct      int   `json:"correct"`
	Incorrect    int   `json:"incorrect"`
}

// Percent returns the seen share of the catalog, 0 for an empty catalog
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Seen) / float64(p.Total) * 100
}
