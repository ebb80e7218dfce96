// Package safety implements the pre-execution safety pipeline: the target
// URL guard (SSRF and DNS-rebinding defense), the plan sanitizer, the
// prompt-injection detector, and the prompt sandwich sanitizer.
package safety

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/uiprobe/uiprobe/pkg/config"
)

// GuardError is a typed target-guard rejection carrying the rule that fired.
type GuardError struct {
	Host string
	Rule string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("target %q rejected: %s", e.Host, e.Rule)
}

// cloudMetadataHosts are instance-metadata endpoints. Checked
// unconditionally; the self-test allowlist can never override them.
var cloudMetadataHosts = map[string]bool{
	"169.254.169.254":          true, // AWS, GCP, Azure, DigitalOcean
	"metadata.google.internal": true,
	"metadata.goog":            true,
	"100.100.100.200":          true, // Alibaba Cloud
	"169.254.170.2":            true, // AWS ECS task metadata
}

// blockedPathPatterns match URL paths that must never be driven by a test:
// admin panels, auth endpoints, and exposed dotfiles/diagnostics.
var blockedPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/(wp-)?admin(/|$)`),
	regexp.MustCompile(`(?i)/administrator(/|$)`),
	regexp.MustCompile(`(?i)/(login|signin|auth|oauth)/?(callback)?$`),
	regexp.MustCompile(`(?i)/\.env($|\.)`),
	regexp.MustCompile(`(?i)/\.git(/|$)`),
	regexp.MustCompile(`(?i)/\.aws(/|$)`),
	regexp.MustCompile(`(?i)/\.ssh(/|$)`),
	regexp.MustCompile(`(?i)/phpinfo(\.php)?$`),
	regexp.MustCompile(`(?i)/server-status$`),
}

// privateRanges are the RFC 1918 + loopback ranges rejected under the
// production profile.
var privateRanges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
)

// linkLocalRange covers 169.254/16, rejected unconditionally with the
// metadata endpoints.
var linkLocalRange = mustParseCIDR("169.254.0.0/16")

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, len(cidrs))
	for i, c := range cidrs {
		out[i] = mustParseCIDR(c)
	}
	return out
}

// Resolver looks up A/AAAA records for DNS-rebinding defense. Injectable
// for tests; defaults to net.DefaultResolver.
type Resolver func(ctx context.Context, host string) ([]net.IP, error)

// TargetGuard validates candidate target URLs before any run is admitted.
type TargetGuard struct {
	cfg     *config.SecurityConfig
	resolve Resolver
	logger  *slog.Logger
}

// NewTargetGuard creates a guard with the default system resolver.
func NewTargetGuard(cfg *config.SecurityConfig) *TargetGuard {
	return &TargetGuard{
		cfg: cfg,
		resolve: func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, len(addrs))
			for i, a := range addrs {
				ips[i] = a.IP
			}
			return ips, nil
		},
		logger: slog.Default(),
	}
}

// WithResolver overrides the DNS resolver (tests).
func (g *TargetGuard) WithResolver(r Resolver) *TargetGuard {
	g.resolve = r
	return g
}

// CheckURL validates a candidate target URL. Returns a *GuardError naming
// the rule that fired, or nil when the target is acceptable.
//
// Rule precedence (strictest first): self-protection and cloud-metadata
// rules are unconditional and run before the allowlist; where the metadata
// and localhost sets overlap, the stricter rule (reject) wins.
func (g *TargetGuard) CheckURL(ctx context.Context, rawURL string) error {
	host, path, err := extractHostPath(rawURL)
	if err != nil {
		return &GuardError{Host: rawURL, Rule: fmt.Sprintf("unparseable URL: %v", err)}
	}
	host = NormalizeHost(host)

	// 1. Self-protection (unconditional).
	for _, self := range g.cfg.SelfDomains {
		self = NormalizeHost(self)
		if host == self || strings.HasSuffix(host, "."+self) {
			return &GuardError{Host: host, Rule: "self-protection domain"}
		}
	}

	// 2. Cloud metadata and link-local (unconditional).
	if err := checkMetadataHost(host); err != nil {
		return err
	}

	// 3. Loopback and private ranges (production profile only; self-test
	// setups legitimately target staging hosts on private addresses).
	if g.cfg.ProductionProfile {
		if err := checkPrivateHost(host); err != nil {
			return err
		}
	}

	// 4. Self-test allowlist: when enabled, the host must match an entry.
	if g.cfg.SelfTestEnabled && len(g.cfg.Allowlist) > 0 {
		if !matchesDomainList(host, g.cfg.Allowlist) {
			return &GuardError{Host: host, Rule: "not in self-test allowlist"}
		}
	}

	// 5. DNS rebinding: every resolved address re-runs the range checks.
	if g.cfg.SSRFProtection && g.cfg.DNSRebindingProtection && net.ParseIP(host) == nil {
		if err := g.checkResolved(ctx, host); err != nil {
			return err
		}
	}

	// 6. Blocked TLDs.
	for _, tld := range g.cfg.BlockedTLDs {
		if strings.HasSuffix(host, strings.ToLower(tld)) {
			return &GuardError{Host: host, Rule: fmt.Sprintf("blocked TLD %s", tld)}
		}
	}

	// 7. Blocked domains (exact or subdomain).
	if matchesDomainList(host, g.cfg.BlockedDomains) {
		return &GuardError{Host: host, Rule: "blocked domain"}
	}

	// 8. Blocked paths.
	for _, re := range blockedPathPatterns {
		if re.MatchString(path) {
			return &GuardError{Host: host, Rule: fmt.Sprintf("blocked path %s", path)}
		}
	}

	return nil
}

func (g *TargetGuard) checkResolved(ctx context.Context, host string) error {
	ips, err := g.resolve(ctx, host)
	if err != nil {
		return &GuardError{Host: host, Rule: fmt.Sprintf("DNS resolution failed: %v", err)}
	}
	for _, ip := range ips {
		if err := checkIP(host, ip, g.cfg.ProductionProfile); err != nil {
			return err
		}
	}
	return nil
}

func checkMetadataHost(host string) error {
	if cloudMetadataHosts[host] {
		return &GuardError{Host: host, Rule: "cloud metadata endpoint"}
	}
	if ip := net.ParseIP(host); ip != nil && linkLocalRange.Contains(ip) {
		return &GuardError{Host: host, Rule: "link-local address"}
	}
	return nil
}

func checkPrivateHost(host string) error {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return &GuardError{Host: host, Rule: "loopback host"}
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	return checkIP(host, ip, true)
}

func checkIP(host string, ip net.IP, production bool) error {
	if linkLocalRange.Contains(ip) {
		return &GuardError{Host: host, Rule: fmt.Sprintf("resolves to link-local %s", ip)}
	}
	if ip.IsLoopback() {
		if production {
			return &GuardError{Host: host, Rule: fmt.Sprintf("resolves to loopback %s", ip)}
		}
		return nil
	}
	if production {
		for _, r := range privateRanges {
			if r.Contains(ip) {
				return &GuardError{Host: host, Rule: fmt.Sprintf("resolves to private range %s", ip)}
			}
		}
	}
	return nil
}

// extractHostPath pulls the host (bracketed IPv6 unwrapped, port stripped)
// and path out of a raw URL. Scheme-less input is treated as https.
func extractHostPath(rawURL string) (host, path string, err error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", "", fmt.Errorf("empty URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("no host in URL")
	}
	return u.Hostname(), u.Path, nil
}

// ApprovedHost extracts the normalized host from a target URL; plan
// navigation is confined to this host and its subdomains.
func ApprovedHost(rawURL string) (string, error) {
	host, _, err := extractHostPath(rawURL)
	if err != nil {
		return "", err
	}
	return NormalizeHost(host), nil
}

// NormalizeHost lower-cases a host and strips the www. prefix.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}

// matchesDomainList reports whether host equals an entry or is a subdomain
// of one.
func matchesDomainList(host string, domains []string) bool {
	for _, d := range domains {
		d = NormalizeHost(d)
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
