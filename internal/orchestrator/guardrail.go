package orchestrator

import (
	"regexp"
	"strings"
)

// builtinSecretPatterns catches common secret shapes leaking into an
// assistant's own output (credentials echoed back from a tool result,
// pasted from a user turn, or hallucinated).
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w\-.]+`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// GuardrailConfig configures the orchestrator's output policy check.
type GuardrailConfig struct {
	// Enabled turns the check on; a zero-value GuardrailConfig is a no-op.
	Enabled bool
	// Denylist is a set of case-insensitive substrings that trip the
	// guardrail outright.
	Denylist []string
	// SanitizeSecrets applies the builtin secret patterns and blocks the
	// response rather than merely redacting — secret-shaped output in an
	// assistant turn is treated as a policy violation, not noise to strip.
	SanitizeSecrets bool
	// FallbackMessage is returned in place of a violating response.
	// Defaults to a generic refusal.
	FallbackMessage string
}

func (g GuardrailConfig) active() bool {
	return g.Enabled && (len(g.Denylist) > 0 || g.SanitizeSecrets)
}

func (g GuardrailConfig) fallback() string {
	if strings.TrimSpace(g.FallbackMessage) != "" {
		return g.FallbackMessage
	}
	return "I can't share that response as written. Could you rephrase your request?"
}

// check validates content against the policy, returning the content
// unchanged (ok=true) or the configured fallback (ok=false).
func (g GuardrailConfig) check(content string) (safe string, ok bool) {
	if !g.active() {
		return content, true
	}

	lower := strings.ToLower(content)
	for _, term := range g.Denylist {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" && strings.Contains(lower, term) {
			return g.fallback(), false
		}
	}
	if g.SanitizeSecrets {
		for _, re := range builtinSecretPatterns {
			if re.MatchString(content) {
				return g.fallback(), false
			}
		}
	}
	return content, true
}
