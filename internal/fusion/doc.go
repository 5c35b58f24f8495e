// Package fusion is the decision core of wardwatch. It combines
// immediate safety thresholds, the deterministic rule score, per-patient
// cooldown state, and optional classifier enrichment into a single alert,
// then persists and broadcasts it. The Service wraps the Engine with the
// upstream-facing submit lifecycle (extract, score, fire-and-forget
// evaluate) and alert lifecycle mutations.
package fusion
