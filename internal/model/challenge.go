package model

// Challenge is one passage in a race's challenge sequence
type Challenge struct {
	ID        string  `json:"id" bson:"_id,omitempty"`
	Category  string  `json:"category" bson:"category"`
	Text      string  `json:"text" bson:"text"`
	WordCount int     `json:"wordCount" bson:"wordCount"`
	CharCount int     `json:"charCount" bson:"charCount"`
	TargetWpm float64 `json:"targetWpm,omitempty" bson:"targetWpm,omitempty"`
}
