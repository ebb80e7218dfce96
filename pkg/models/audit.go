package models

import "time"

// Audit decisions.
const (
	AuditAdmitted = "admitted"
	AuditRejected = "rejected"
)

// AuditEntry records one admission decision for the security audit trail.
// RiskScore grades the decision from 0 (benign) to 100 (hostile target or
// injection attempt).
type AuditEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ClientIP   string    `json:"client_ip"`
	TargetHost string    `json:"target_host"`
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason,omitempty"`
	RiskScore  int       `json:"risk_score"`
	UserAgent  string    `json:"user_agent,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
