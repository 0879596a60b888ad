package models

// SearchResult pairs a similarity score with the artwork it refers to.
type SearchResult struct {
	Score   float64  `json:"score"`
	Artwork *Artwork `json:"artwork"`
	Rank    int      `json:"rank"`
}

// SuggestionResponse is the response for a suggestion query.
// Scores are only comparable within one response; ScoreScale names the scale
// used by the index that produced them.
type SuggestionResponse struct {
	Results    []*SearchResult `json:"results"`
	Total      int             `json:"total"`
	QueryTime  int64           `json:"query_time_ms"`
	Query      string          `json:"query"`
	IndexType  string          `json:"index_type"`
	ScoreScale string          `json:"score_scale"`
}
