package models

// ObstacleConfidence grades how certain the detector is that the reported
// overlay actually blocks interaction.
type ObstacleConfidence string

// Confidence levels.
const (
	ConfidenceHigh   ObstacleConfidence = "high"
	ConfidenceMedium ObstacleConfidence = "medium"
	ConfidenceLow    ObstacleConfidence = "low"
)

// ObstacleInfo describes a blocking overlay detected in a snapshot and how
// to dismiss it.
type ObstacleInfo struct {
	Type            string             `json:"obstacle_type"`
	Description     string             `json:"description,omitempty"`
	DismissSelector string             `json:"dismiss_selector,omitempty"`
	DismissText     string             `json:"dismiss_text,omitempty"`
	Confidence      ObstacleConfidence `json:"confidence"`
}
