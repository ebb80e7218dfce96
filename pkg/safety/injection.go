package safety

import (
	"log/slog"
	"regexp"
)

// Injection categories, used in audit logs and rejection reasons.
const (
	CategorySystemOverride   = "SYSTEM_OVERRIDE"
	CategoryRoleHijack       = "ROLE_HIJACK"
	CategoryInstructionLeak  = "INSTRUCTION_LEAK"
	CategoryDataExfil        = "DATA_EXFIL"
	CategoryTestManipulation = "TEST_MANIPULATION"
	CategoryJailbreak        = "JAILBREAK"
)

// injectionPatterns map each category to the phrasings that attempt to
// redirect the model. Matching is case-insensitive across whitespace.
var injectionPatterns = map[string][]*regexp.Regexp{
	CategorySystemOverride: {
		regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
		regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions|rules|guidelines)`),
		regexp.MustCompile(`(?i)forget\s+(everything|all)\s+(you|above)`),
		regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
		regexp.MustCompile(`(?i)override\s+(system|safety)\s+(prompt|instructions|rules)`),
	},
	CategoryRoleHijack: {
		regexp.MustCompile(`(?i)you\s+are\s+(now|no\s+longer)\s+`),
		regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+(are|were)|an?\s+unrestricted)`),
		regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`),
		regexp.MustCompile(`(?i)roleplay\s+as`),
	},
	CategoryInstructionLeak: {
		regexp.MustCompile(`(?i)(reveal|show|print|repeat|output)\s+(your|the)\s+(system\s+)?(prompt|instructions)`),
		regexp.MustCompile(`(?i)what\s+(are|were)\s+your\s+(initial\s+)?instructions`),
	},
	CategoryDataExfil: {
		regexp.MustCompile(`(?i)(send|post|upload|exfiltrate|transmit)\s+.{0,40}(credentials|cookies|tokens|secrets|api\s*key)`),
		regexp.MustCompile(`(?i)(extract|harvest|collect)\s+.{0,40}(passwords?|personal\s+data|user\s+data)`),
	},
	CategoryTestManipulation: {
		regexp.MustCompile(`(?i)(mark|report)\s+.{0,30}(step|test|run)s?\s+as\s+(passed|successful|success)`),
		regexp.MustCompile(`(?i)(skip|bypass)\s+.{0,30}(safety|security|validation)\s+(checks?|steps?)`),
		regexp.MustCompile(`(?i)always\s+(return|respond\s+with)\s+success`),
	},
	CategoryJailbreak: {
		regexp.MustCompile(`(?i)\bDAN\s+mode\b`),
		regexp.MustCompile(`(?i)developer\s+mode\s+(enabled|on)`),
		regexp.MustCompile(`(?i)jailbreak`),
		regexp.MustCompile(`(?i)without\s+(any\s+)?(restrictions|limitations|filters)`),
	},
}

// InjectionDetector scans user-supplied free text (goals, personas) for
// prompt-injection attempts before it is embedded in any model prompt.
type InjectionDetector struct {
	logger *slog.Logger
}

func NewInjectionDetector() *InjectionDetector {
	return &InjectionDetector{logger: slog.Default()}
}

// Detect returns the category of the first matching pattern, or "" when
// the text is clean.
func (d *InjectionDetector) Detect(text string) string {
	for category, patterns := range injectionPatterns {
		for _, re := range patterns {
			if re.MatchString(text) {
				return category
			}
		}
	}
	return ""
}

// AreSafe checks a batch of goal strings. The first hit rejects the whole
// batch; the offending category and goal index are logged, never the goal
// text itself (it may contain the hostile payload).
func (d *InjectionDetector) AreSafe(goals []string) (bool, string) {
	for i, goal := range goals {
		if category := d.Detect(goal); category != "" {
			d.logger.Warn("Prompt injection detected in goal",
				"goal_index", i, "category", category)
			return false, category
		}
	}
	return true, ""
}
