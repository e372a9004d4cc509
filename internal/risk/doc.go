// Package risk is the business boundary for shuntwatch's check-in triage.
// It defines the Evaluate rule engine (pure), the Service orchestrator
// (skip/success/failure lifecycle per check-in event), the Store interface
// (persistence), and the domain models.
package risk
