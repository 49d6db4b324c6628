package types

// RetrievalResult represents a single retrieval hit with relevance
// information.
type RetrievalResult struct {
	// Identification
	Path string
	Rank int // Position in result set (1-based)

	// Scoring
	RelevanceScore float64 // Cosine similarity mapped to [0, 1]

	// Content
	Content   string
	StartLine int
	EndLine   int

	// Namespace the hit came from
	Tag IndexTag
}

// Validate checks if the retrieval result is valid
func (r *RetrievalResult) Validate() error {
	if r.Rank < 1 {
		return ErrInvalidRank
	}

	if r.RelevanceScore < 0 || r.RelevanceScore > 1 {
		return ErrInvalidRelevanceScore
	}

	if r.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
