package interfaces

// External collaborator services the phase bodies call. All are black boxes
// reached over HTTP; completion is signaled back into the orchestrator via
// the next phase's trigger, not through these return values.

import "context"

// SyncService starts a data sync against the integration backend.
type SyncService interface {
	StartSync(ctx context.Context, userID, sellerID string) (syncID string, err error)
}

// DetectionService runs anomaly detection over synced data.
type DetectionService interface {
	StartDetection(ctx context.Context, userID, syncID string) error
}

// EvidenceService matches evidence documents to candidate claims.
type EvidenceService interface {
	StartMatching(ctx context.Context, userID, syncID string) error
}

// ClaimMatch is one evidence-to-claim match with a confidence score,
// returned by the matching service and routed by phase 4.
type ClaimMatch struct {
	ClaimID    string  `json:"claim_id"`
	Confidence float64 `json:"confidence"`
}

// ClaimService submits claims and requests human clarification for
// low-confidence matches.
type ClaimService interface {
	ListMatches(ctx context.Context, userID, syncID string) ([]ClaimMatch, error)
	SubmitClaim(ctx context.Context, userID, claimID string) error
	RequestClarification(ctx context.Context, userID, claimID string) error
}

// PaymentService computes and records the platform's fee share of a payout.
type PaymentService interface {
	RecordFeeShare(ctx context.Context, userID string, payoutAmount float64) error
}
