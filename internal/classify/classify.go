// Package classify wraps an external text-classification capability for
// patient messages. It sanitizes outbound text, parses the response
// defensively, and degrades to a Normal/no-justification result on any
// failure. Nothing in this package ever returns an error to its caller.
package classify

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/wardwatch/internal/alert"
)

// DefaultTimeout bounds the external round trip. The classifier runs on
// the alerting path, so a hung provider must not hold the caller.
const DefaultTimeout = 20 * time.Second

// Provider is the narrow interface to the external classification
// capability: a prompt in, raw text out.
type Provider interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Result is a classification of a patient message. The label is advisory
// only; fusion uses the justification for reason enrichment and must
// never let the label change the alert level.
type Result struct {
	Label         alert.Level `json:"label"`
	Justification string      `json:"justification"`
}

// fallback is returned on any classification failure.
var fallback = Result{Label: alert.LevelNormal}

// Classifier dispatches patient messages to a Provider.
type Classifier struct {
	provider Provider
	timeout  time.Duration
	logger   log.Logger
}

// New creates a Classifier. A zero timeout uses DefaultTimeout.
func New(provider Provider, timeout time.Duration, logger log.Logger) *Classifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Classifier{provider: provider, timeout: timeout, logger: logger}
}

const systemPrompt = `You classify messages from post-operative patients for a clinical alerting system.
Respond with a single JSON object and nothing else:
{"label": "Emergency" | "Priority" | "Normal", "justification": "<one short sentence>"}

Emergency: symptoms needing immediate clinician attention (active bleeding, breathing difficulty, chest pain, collapse).
Priority: concerning symptoms that should be reviewed soon.
Normal: routine questions or mild complaints.`

// Classify sends the message to the provider and parses the response.
// A failed or unparseable round trip yields {Normal, ""} - the empty
// justification is how callers see that no enrichment is available.
func (c *Classifier) Classify(ctx context.Context, message string) Result {
	if c.provider == nil || strings.TrimSpace(message) == "" {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.provider.Complete(ctx, systemPrompt, Scrub(message))
	if err != nil {
		c.logger.Error(ctx, err, "message classification failed")
		return fallback
	}

	res, ok := parseResponse(raw)
	if !ok {
		c.logger.Warn(ctx, "unparseable classifier response", "response", truncate(raw, 256))
		return fallback
	}
	return res
}

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s\-().]{7,}\d`)
	// national identity numbers: SSN-style groups or long unbroken digit runs
	natIDRe = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{9,12}\b`)
)

// Scrub removes personally identifying substrings before the message
// leaves the process.
func Scrub(s string) string {
	s = emailRe.ReplaceAllString(s, "[email]")
	s = natIDRe.ReplaceAllString(s, "[id]")
	s = phoneRe.ReplaceAllString(s, "[phone]")
	return s
}

// wire is the shape the provider is asked to return.
type wire struct {
	Label         string `json:"label"`
	Justification string `json:"justification"`
}

// parseResponse strips markdown fencing and extracts the first
// well-formed JSON object from the response, tolerating prose around it.
func parseResponse(raw string) (Result, bool) {
	s := stripFences(raw)

	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var w wire
		if err := dec.Decode(&w); err != nil {
			continue
		}
		if w.Label == "" {
			continue
		}
		return Result{
			Label:         mapLabel(w.Label),
			Justification: strings.TrimSpace(w.Justification),
		}, true
	}
	return Result{}, false
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop a language hint like "json" on the opening fence
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if len(first) <= 12 && !strings.ContainsAny(first, "{}") {
			s = s[i+1:]
		}
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// mapLabel maps a free-form label onto the three-way enum by prefix, so
// minor format drift ("EMERGENCY", "priority.") still lands correctly.
func mapLabel(s string) alert.Level {
	switch v := strings.ToLower(strings.TrimSpace(s)); {
	case strings.HasPrefix(v, "e"):
		return alert.LevelEmergency
	case strings.HasPrefix(v, "p"):
		return alert.LevelPriority
	default:
		return alert.LevelNormal
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
