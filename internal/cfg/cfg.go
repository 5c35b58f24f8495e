package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config holds wardwatch's application-level configuration. Runtime
// concerns (http server, logging, ops listener, tracing, profiling) use
// the shared go-core config structs registered in main.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	ClaudeAPIKey          string
	ClaudeModel           string
	ClassifierTimeoutSecs int
	DatabaseURL           string
	StorePath             string
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults
// inline.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on mutating alert endpoints (empty = no auth)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude message classifier (empty = rule-only alerting)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model for message classification")
	fs.IntVar(&c.ClassifierTimeoutSecs, "classifier-timeout-seconds", 20, "bound on a single classifier round trip (1..120)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = embedded sqlite store)")
	fs.StringVar(&c.StorePath, "store-path", "wardwatch.db", "path of the embedded sqlite alert store")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for alert notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are
// valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClassifierTimeoutSecs <= 0 || c.ClassifierTimeoutSecs > 120 {
		errs = append(errs, fmt.Errorf("invalid CLASSIFIER_TIMEOUT_SECONDS %d (must be 1..120)", c.ClassifierTimeoutSecs))
	}

	// Classifier is optional, but an enabled one needs a model
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	// One durable store is required
	if c.DatabaseURL == "" && c.StorePath == "" {
		errs = append(errs, errors.New("either DATABASE_URL or STORE_PATH must be set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
