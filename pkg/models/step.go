package models

import "time"

// Action is the atomic browser instruction type carried by an ActionStep.
type Action string

// Supported actions. "click" and "hover" map 1:1 to bridge tool names;
// the rest are translated by the step loop.
const (
	ActionNavigate           Action = "navigate"
	ActionClick              Action = "click"
	ActionType               Action = "type"
	ActionHover              Action = "hover"
	ActionWait               Action = "wait"
	ActionScreenshot         Action = "screenshot"
	ActionScroll             Action = "scroll"
	ActionMeasurePerformance Action = "measure_performance"

	// ActionAutoDismiss is synthesized by the obstacle clearer; it never
	// appears in planned steps, only in the executed-step audit trail.
	ActionAutoDismiss Action = "auto_dismiss"
)

// ActionStep is an atomic planned instruction. Steps are immutable once
// issued; resolving a selector produces a new step via WithSelector.
type ActionStep struct {
	ID       string            `json:"id"`
	Action   Action            `json:"action"`
	Target   string            `json:"target,omitempty"`
	Selector string            `json:"selector,omitempty"`
	Value    string            `json:"value,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// WithSelector returns a copy of the step with the selector filled in.
// The step ID is preserved so retry counters stay attached across retries.
func (s ActionStep) WithSelector(selector string) ActionStep {
	out := s
	out.Selector = selector
	return out
}

// WithoutSelector returns a copy with the selector cleared, forcing
// re-resolution on the next pop.
func (s ActionStep) WithoutSelector() ActionStep {
	out := s
	out.Selector = ""
	return out
}

// StepDisposition is the terminal outcome of an executed step.
type StepDisposition string

// Step disposition constants.
const (
	StepSuccess StepDisposition = "success"
	StepFailed  StepDisposition = "failed"
	StepSkipped StepDisposition = "skipped"
)

// PerformanceMetrics holds web-vitals values parsed from a
// measure_performance tool response.
type PerformanceMetrics struct {
	LCP float64 `json:"lcp,omitempty"`
	CLS float64 `json:"cls,omitempty"`
	FCP float64 `json:"fcp,omitempty"`
	TTF float64 `json:"ttfb,omitempty"`
}

// ExecutedStep records a step as it actually ran, for the done queue and the
// persisted run log. Auto-dismiss steps are interleaved with user-planned
// steps in execution order.
type ExecutedStep struct {
	Step         ActionStep          `json:"step"`
	SelectorUsed string              `json:"selector_used,omitempty"`
	Before       *DomSnapshot        `json:"before,omitempty"`
	After        *DomSnapshot        `json:"after,omitempty"`
	Duration     time.Duration       `json:"duration"`
	Retries      int                 `json:"retries"`
	Disposition  StepDisposition     `json:"disposition"`
	Reason       string              `json:"reason,omitempty"`
	Screenshot   string              `json:"screenshot,omitempty"`
	Suggestion   string              `json:"suggestion,omitempty"`
	ConsoleLogs  []string            `json:"console_logs,omitempty"`
	PageErrors   []string            `json:"page_errors,omitempty"`
	Performance  *PerformanceMetrics `json:"performance,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}
