// Package workflow runs the conversion pipeline. A manager polls the store
// for pending jobs and walks each claimed job through validate, extract,
// synthesize, and render, applying per-stage retry policy, circuit breaking,
// timeouts, and heartbeat-based crash recovery.
package workflow
