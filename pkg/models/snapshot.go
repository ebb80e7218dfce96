package models

import "time"

// DomSnapshot is a value object capturing the page state at a point in time.
// Content is the accessibility-tree text with [ref=e<N>] anchors, the sole
// page representation the AI ever sees. Snapshots are never shared across
// steps.
type DomSnapshot struct {
	Content    string    `json:"content"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	CapturedAt time.Time `json:"captured_at"`
}

// Changed reports whether the accessibility content differs from the other
// snapshot. A nil other counts as changed.
func (s *DomSnapshot) Changed(other *DomSnapshot) bool {
	if s == nil || other == nil {
		return true
	}
	return s.Content != other.Content
}
