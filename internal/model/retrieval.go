package model

// RetrievalOptions scope a course-material lookup.
type RetrievalOptions struct {
	CourseName  string   `json:"course_name"`
	TokenBudget int      `json:"token_budget,omitempty"`
	Groups      []string `json:"groups,omitempty"`
}
