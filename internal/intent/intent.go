// Package intent classifies free-text inbound replies into the coarse
// intents the stage engine understands.
//
// Classification is pure and stateless: a fixed vocabulary with prefix
// matching, no language model. The negative rule "starts with n" is
// intentionally broad and known to catch unrelated words; it lives behind
// this package so a stricter rule can be swapped in without touching the
// stage engine.
package intent

import "strings"

// Intent is the coarse classification of an inbound reply.
type Intent int

const (
	// Unknown means the reply matched neither vocabulary. The engine
	// silently ignores these (the inbound is still logged).
	Unknown Intent = iota
	// Affirmative means the lead wants to continue.
	Affirmative
	// Negative means the lead declined.
	Negative
)

// String returns a readable name for logging.
func (i Intent) String() string {
	switch i {
	case Affirmative:
		return "affirmative"
	case Negative:
		return "negative"
	default:
		return "unknown"
	}
}

var affirmatives = []string{
	"s", "sim", "sim!", "sim?", "quero", "vamos",
	"ok", "pode", "pode mandar", "segue", "manda",
}

var negatives = []string{
	"n", "nao", "não", "não quero", "nao quero",
	"n quero", "não obrigada", "nao obrigado",
}

// Classify maps an inbound body to an intent. Matching is case-insensitive
// on the trimmed body: exact vocabulary match or vocabulary-token prefix.
// Negative additionally matches any body starting with "n", which subsumes
// most of the explicit list.
func Classify(body string) Intent {
	b := strings.ToLower(strings.TrimSpace(body))
	if b == "" {
		return Unknown
	}
	for _, w := range affirmatives {
		if b == w || strings.HasPrefix(b, w) {
			return Affirmative
		}
	}
	for _, w := range negatives {
		if b == w {
			return Negative
		}
	}
	if strings.HasPrefix(b, "n") {
		return Negative
	}
	return Unknown
}
