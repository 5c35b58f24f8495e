package fusion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/wardwatch/internal/alert"
	"github.com/linnemanlabs/wardwatch/internal/alertstore"
	"github.com/linnemanlabs/wardwatch/internal/classify"
	"github.com/linnemanlabs/wardwatch/internal/publish"
	"github.com/linnemanlabs/wardwatch/internal/rules"
	"github.com/linnemanlabs/wardwatch/internal/vitals"
)

// CooldownWindow is the minimum time between two alerts of the same
// (patient, level) pair. Repeated submissions of similar vitals inside
// the window return the earlier alert instead of emitting a new one.
const CooldownWindow = 5 * time.Minute

// Score thresholds for the alert level. These deliberately differ from
// the rule-score label boundaries; the two scales serve different
// consumers.
const (
	emergencyScoreFloor = 16
	priorityScoreFloor  = 4
)

// reasonSeparator joins the rule-derived reason with the classifier's
// justification when fusion applies.
const reasonSeparator = " | "

// bleedingRe matches explicit active-bleeding language in a patient
// message. This is a safety override on its own, independent of vitals.
var bleedingRe = regexp.MustCompile(`(?i)\b(?:(?:uncontrolled|active|heavy|severe)\s+bleeding|bleeding\s+(?:heavily|a lot|won'?t stop)|hemorrhag\w*|soaked (?:in|with) blood)\b`)

// Classifier is the narrow view of the message classifier the engine
// needs, so tests can substitute one with no live network dependency.
type Classifier interface {
	Classify(ctx context.Context, message string) classify.Result
}

// Input carries everything the engine needs for one paging decision.
type Input struct {
	Patient alert.Patient
	Rule    rules.Result

	// Vitals feeds the immediate safety checks. Optional.
	Vitals *vitals.Record

	// Message is the patient's free-text message, if any. It drives the
	// bleeding safety check and classifier enrichment.
	Message string

	// Now anchors the decision in time. Zero means time.Now.
	Now time.Time
}

// EngineHooks receives engine events; used for metrics. Nil funcs are
// skipped.
type EngineHooks struct {
	OnAlert          func(level, source string, score int)
	OnSuppressed     func(level string)
	OnSafetyOverride func(condition string)
	OnClassify       func(enriched bool, seconds float64)
	OnFailure        func(stage string)
}

// Engine combines safety overrides, rule score, cooldown state, and
// classifier output into one final alert.
type Engine struct {
	store      alertstore.Store
	classifier Classifier
	publisher  publish.Publisher
	logger     log.Logger
	hooks      EngineHooks
	locks      *keyedMutex
}

// NewEngine creates a fusion engine. classifier and publisher may be
// nil: the engine then runs rule-only and skips broadcasting.
func NewEngine(store alertstore.Store, classifier Classifier, publisher publish.Publisher, logger log.Logger, hooks EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		store:      store,
		classifier: classifier,
		publisher:  publisher,
		logger:     logger,
		hooks:      hooks,
		locks:      newKeyedMutex(),
	}
}

// Evaluate runs the full decision pipeline and returns the persisted
// alert, the earlier alert when cooldown suppresses emission, or nil.
// It never panics and never returns an error: alerting is best-effort
// relative to the clinical workflow that produced the input.
func (e *Engine) Evaluate(ctx context.Context, in Input) (out *alert.Alert) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, fmt.Errorf("panic: %v", r), "alert evaluation panicked",
				"patient_id", in.Patient.ID)
			if e.hooks.OnFailure != nil {
				e.hooks.OnFailure("panic")
			}
			out = nil
		}
	}()

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	// step 1: immediate safety overrides, before the score is consulted
	level := levelForScore(in.Rule.Score)
	reason := breakdownReason(in.Rule)
	if condition, why, ok := safetyOverride(in); ok {
		level, reason = alert.LevelEmergency, why
		if e.hooks.OnSafetyOverride != nil {
			e.hooks.OnSafetyOverride(condition)
		}
	}

	// step 2: cooldown, atomic per (patient, level) with the insert below
	unlock := e.locks.lock(strings.ToLower(in.Patient.ID) + "\x00" + string(level))
	defer unlock()

	prev, found, err := e.store.LatestForPatient(ctx, in.Patient.ID, level)
	if err != nil {
		// availability over dedup: a broken lookup must not block paging
		e.logger.Error(ctx, err, "cooldown lookup failed", "patient_id", in.Patient.ID)
		if e.hooks.OnFailure != nil {
			e.hooks.OnFailure("cooldown_lookup")
		}
	}
	if found && now.Sub(prev.CreatedAt) < CooldownWindow {
		e.logger.Info(ctx, "alert suppressed by cooldown",
			"patient_id", in.Patient.ID, "level", string(level), "existing_alert", prev.ID)
		if e.hooks.OnSuppressed != nil {
			e.hooks.OnSuppressed(string(level))
		}
		return prev
	}

	// step 3: classifier enrichment, never for emergencies and never
	// able to change the level
	source := alert.SourceRules
	if level != alert.LevelEmergency && e.classifier != nil && strings.TrimSpace(in.Message) != "" {
		start := time.Now()
		res := e.classifier.Classify(ctx, in.Message)
		enriched := res.Justification != ""
		if e.hooks.OnClassify != nil {
			e.hooks.OnClassify(enriched, time.Since(start).Seconds())
		}
		if enriched {
			reason = reason + reasonSeparator + res.Justification
			source = alert.SourceFusion
		}
	}

	a := &alert.Alert{
		ID:        ulid.Make().String(),
		Level:     level,
		Patient:   in.Patient,
		Reason:    reason,
		Score:     in.Rule.Score,
		Source:    source,
		Status:    alert.StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}

	stored, err := e.store.Push(ctx, a)
	if err != nil {
		e.logger.Error(ctx, err, "alert persist failed",
			"patient_id", in.Patient.ID, "level", string(level))
		if e.hooks.OnFailure != nil {
			e.hooks.OnFailure("persist")
		}
		return nil
	}

	if e.hooks.OnAlert != nil {
		e.hooks.OnAlert(string(stored.Level), string(stored.Source), stored.Score)
	}
	e.logger.Info(ctx, "alert emitted",
		"alert_id", stored.ID,
		"patient_id", stored.Patient.ID,
		"level", string(stored.Level),
		"source", string(stored.Source),
		"score", stored.Score,
	)

	// broadcast is best-effort; the returned alert is already durable
	if e.publisher != nil {
		e.publisher.Publish(ctx, stored)
	}

	return stored
}

// safetyOverride checks the unambiguous physiological emergencies that
// must never wait for scoring. It returns the metric condition name and
// the human-readable reason.
func safetyOverride(in Input) (condition, reason string, ok bool) {
	if v := in.Vitals; v != nil {
		if v.TemperatureC != nil && *v.TemperatureC >= 38.5 {
			return "temperature", fmt.Sprintf("temperature %.1fC at or above 38.5C", *v.TemperatureC), true
		}
		if v.SpO2 != nil && *v.SpO2 < 90 {
			return "spo2", fmt.Sprintf("oxygen saturation %d%% below <90%% threshold", *v.SpO2), true
		}
		if v.BloodPressure != nil && v.BloodPressure.Systolic < 90 {
			return "systolic_bp", fmt.Sprintf("systolic blood pressure %d below 90", v.BloodPressure.Systolic), true
		}
		if v.HeartRate != nil && *v.HeartRate > 140 {
			return "heart_rate", fmt.Sprintf("heart rate %d above 140", *v.HeartRate), true
		}
		if v.HeartRate != nil && *v.HeartRate < 40 {
			return "heart_rate", fmt.Sprintf("heart rate %d below 40", *v.HeartRate), true
		}
	}
	if in.Message != "" && bleedingRe.MatchString(in.Message) {
		return "bleeding_message", "active bleeding reported by patient", true
	}
	return "", "", false
}

func levelForScore(score int) alert.Level {
	switch {
	case score >= emergencyScoreFloor:
		return alert.LevelEmergency
	case score >= priorityScoreFloor:
		return alert.LevelPriority
	default:
		return alert.LevelNormal
	}
}

// breakdownReason joins the top two scoring contributions; when the
// breakdown is empty it falls back to the bare score.
func breakdownReason(rr rules.Result) string {
	if len(rr.Breakdown) == 0 {
		return fmt.Sprintf("risk score %d/%d", rr.Score, rules.MaxScore)
	}
	parts := make([]string, 0, 2)
	for i, f := range rr.Breakdown {
		if i == 2 {
			break
		}
		parts = append(parts, f.Reason)
	}
	return strings.Join(parts, "; ")
}
