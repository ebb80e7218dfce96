package models

// Verdict is the five-way disposition produced by the reflector for each
// observed step outcome.
type Verdict int

// Verdict variants. The dispatch switch in the step loop is exhaustive over
// these; there is no open subtyping.
const (
	VerdictSuccess Verdict = iota
	VerdictRetry
	VerdictWait
	VerdictAbort
	VerdictSkip
)

// String returns the verdict name for logs.
func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictRetry:
		return "retry"
	case VerdictWait:
		return "wait"
	case VerdictAbort:
		return "abort"
	case VerdictSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// ReflectionResult is the closed tagged variant returned by the reflector.
// Only the fields relevant to the active verdict are populated.
type ReflectionResult struct {
	Verdict Verdict

	// Selector actually used, on Success.
	Selector string

	// Reason explains Retry, Wait, Abort, and Skip verdicts.
	Reason string

	// RepairSteps are pushed ahead of the retried step on Retry
	// (e.g. an injected wait after a timeout).
	RepairSteps []ActionStep

	// RetryStep is the step to re-queue on Retry. It carries the latest
	// resolved selector unless the reflector cleared it for re-resolution.
	RetryStep *ActionStep

	// WaitMs is the cooperative sleep duration for the Wait verdict.
	WaitMs int
}

// ReflectSuccess builds a Success result.
func ReflectSuccess(selector string) ReflectionResult {
	return ReflectionResult{Verdict: VerdictSuccess, Selector: selector}
}

// ReflectRetry builds a Retry result re-queuing retry with optional repair
// steps ahead of it.
func ReflectRetry(reason string, retry ActionStep, repair ...ActionStep) ReflectionResult {
	return ReflectionResult{Verdict: VerdictRetry, Reason: reason, RetryStep: &retry, RepairSteps: repair}
}

// ReflectWait builds a Wait result.
func ReflectWait(reason string, ms int) ReflectionResult {
	return ReflectionResult{Verdict: VerdictWait, Reason: reason, WaitMs: ms}
}

// ReflectAbort builds an Abort result.
func ReflectAbort(reason string) ReflectionResult {
	return ReflectionResult{Verdict: VerdictAbort, Reason: reason}
}

// ReflectSkip builds a Skip result.
func ReflectSkip(reason string) ReflectionResult {
	return ReflectionResult{Verdict: VerdictSkip, Reason: reason}
}
