package obstacle

import (
	"fmt"
	"regexp"
	"strings"
)

// fallbackSelectors are dismiss controls of the consent managers seen most
// in the wild. Tried in order when model-provided selectors fail or when a
// consent-fallback sentinel defers resolution here.
var fallbackSelectors = []string{
	// OneTrust
	"#onetrust-accept-btn-handler",
	"#onetrust-reject-all-handler",
	".onetrust-close-btn-handler",
	// SourcePoint
	"button[title='Accept']",
	"button[title='Accept All']",
	".sp_choice_type_11",
	// Cookiebot
	"#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll",
	"#CybotCookiebotDialogBodyButtonAccept",
	// Quantcast
	".qc-cmp2-summary-buttons button[mode='primary']",
	// Didomi
	"#didomi-notice-agree-button",
	// Generic ARIA and attribute patterns
	"button[aria-label*='Accept']",
	"button[aria-label*='accept cookies']",
	"button[aria-label*='Close']",
	"[data-testid*='cookie'] button",
	"[id*='cookie'] button[class*='accept']",
}

// FallbackSelectors returns the consent-manager selector list.
func FallbackSelectors() []string {
	out := make([]string, len(fallbackSelectors))
	copy(out, fallbackSelectors)
	return out
}

// jQuery pseudo-classes sometimes leak into model output. They are not
// valid CSS and crash querySelector, so :contains("text") is rewritten to
// an attribute-substring match on aria-label.
var containsPseudo = regexp.MustCompile(`^([a-zA-Z][\w-]*)?:contains\(['"]?([^'")]+)['"]?\)$`)

// nonCSSPseudo drops other jQuery-only pseudo-classes (:visible, :first)
// that have no CSS equivalent.
var nonCSSPseudo = regexp.MustCompile(`:(visible|hidden|first|last|eq\(\d+\))`)

// SanitizeSelector rewrites jQuery-flavored selectors into valid CSS.
func SanitizeSelector(sel string) string {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return ""
	}
	if m := containsPseudo.FindStringSubmatch(sel); m != nil {
		elem := m[1]
		if elem == "" {
			elem = "*"
		}
		return fmt.Sprintf(`%s[aria-label*="%s"]`, elem, m[2])
	}
	return nonCSSPseudo.ReplaceAllString(sel, "")
}
