package models

import (
	"fmt"
	"time"
)

// Phase identifies one of the seven stages in a user's claim-recovery
// lifecycle. Phases 1-5 form a linear pipeline; 6 and 7 are externally
// triggered branches (claim rejection and payout received).
type Phase int

const (
	PhaseOnboarding   Phase = 1 // Zero-Friction Onboarding
	PhaseDiscovery    Phase = 2 // Autonomous Money Discovery
	PhaseEvidence     Phase = 3 // Intelligent Evidence Ecosystem
	PhaseRefund       Phase = 4 // Predictive Refund Orchestration
	PhaseRecovery     Phase = 5 // Autonomous Recovery Pipeline
	PhaseLearning     Phase = 6 // Continuous Learning (on rejection)
	PhaseTransparency Phase = 7 // Hyper-Transparency (on payout)

	MinPhase = PhaseOnboarding
	MaxPhase = PhaseTransparency
)

var phaseNames = map[Phase]string{
	PhaseOnboarding:   "Zero-Friction Onboarding",
	PhaseDiscovery:    "Autonomous Money Discovery",
	PhaseEvidence:     "Intelligent Evidence Ecosystem",
	PhaseRefund:       "Predictive Refund Orchestration",
	PhaseRecovery:     "Autonomous Recovery Pipeline",
	PhaseLearning:     "Continuous Learning",
	PhaseTransparency: "Hyper-Transparency",
}

// phaseTransitions is the pipeline graph as data: which phase follows a
// successful completion. Phases 5, 6 and 7 are terminal; 6 and 7 have no
// entry here because they are rooted in external webhooks.
var phaseTransitions = map[Phase]Phase{
	PhaseOnboarding: PhaseDiscovery,
	PhaseDiscovery:  PhaseEvidence,
	PhaseEvidence:   PhaseRefund,
	PhaseRefund:     PhaseRecovery,
}

// slaThresholds holds the static per-phase duration thresholds used by the
// SLA-violation view.
var slaThresholds = map[Phase]time.Duration{
	PhaseOnboarding:   30 * time.Second,
	PhaseDiscovery:    60 * time.Second,
	PhaseEvidence:     120 * time.Second,
	PhaseRefund:       90 * time.Second,
	PhaseRecovery:     10 * time.Second,
	PhaseLearning:     15 * time.Second,
	PhaseTransparency: 60 * time.Second,
}

// Valid reports whether p is within the 1..7 range.
func (p Phase) Valid() bool {
	return p >= MinPhase && p <= MaxPhase
}

// Name returns the human-readable phase name.
func (p Phase) Name() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Unknown Phase %d", int(p))
}

// Next returns the phase to trigger after p completes successfully.
// ok is false for terminal phases (5, 6, 7).
func (p Phase) Next() (Phase, bool) {
	next, ok := phaseTransitions[p]
	return next, ok
}

// SLAThreshold returns the static duration threshold for p. Zero if p is
// out of range.
func (p Phase) SLAThreshold() time.Duration {
	return slaThresholds[p]
}

func (p Phase) String() string {
	return fmt.Sprintf("phase %d (%s)", int(p), p.Name())
}

// EventName builds the WebSocket event name for a phase lifecycle event,
// e.g. "workflow.phase.3.completed".
func (p Phase) EventName(event string) string {
	return fmt.Sprintf("workflow.phase.%d.%s", int(p), event)
}
