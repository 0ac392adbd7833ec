package collaborators

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ternarybob/arbor"

	"github.com/reclaimhq/reclaim/internal/common"
	"github.com/reclaimhq/reclaim/internal/interfaces"
)

// Services bundles the HTTP clients for the external backends the phase
// bodies call. All share one OAuth2-aware transport.
type Services struct {
	Sync      interfaces.SyncService
	Detection interfaces.DetectionService
	Evidence  interfaces.EvidenceService
	Claims    interfaces.ClaimService
	Payment   interfaces.PaymentService
}

// NewServices creates all collaborator clients from config
func NewServices(config *common.CollaboratorsConfig, logger arbor.ILogger) *Services {
	client := newHTTPClient(config)

	return &Services{
		Sync:      &syncClient{client: client, baseURL: config.SyncURL, logger: logger},
		Detection: &detectionClient{client: client, baseURL: config.DetectionURL, logger: logger},
		Evidence:  &evidenceClient{client: client, baseURL: config.EvidenceURL, logger: logger},
		Claims:    &claimClient{client: client, baseURL: config.ClaimsURL, logger: logger},
		Payment:   &paymentClient{client: client, baseURL: config.PaymentURL, logger: logger},
	}
}

type syncClient struct {
	client  *http.Client
	baseURL string
	logger  arbor.ILogger
}

func (c *syncClient) StartSync(ctx context.Context, userID, sellerID string) (string, error) {
	var resp struct {
		SyncID string `json:"sync_id"`
	}
	body := map[string]string{
		"user_id":   userID,
		"seller_id": sellerID,
	}
	if err := postJSON(ctx, c.client, c.baseURL+"/v1/syncs", body, &resp); err != nil {
		return "", fmt.Errorf("start sync: %w", err)
	}
	if resp.SyncID == "" {
		return "", fmt.Errorf("start sync: backend returned empty sync_id")
	}

	c.logger.Debug().
		Str("user_id", userID).
		Str("sync_id", resp.SyncID).
		Msg("Sync started")
	return resp.SyncID, nil
}

type detectionClient struct {
	client  *http.Client
	baseURL string
	logger  arbor.ILogger
}

func (c *detectionClient) StartDetection(ctx context.Context, userID, syncID string) error {
	body := map[string]string{
		"user_id": userID,
		"sync_id": syncID,
	}
	if err := postJSON(ctx, c.client, c.baseURL+"/v1/detections", body, nil); err != nil {
		return fmt.Errorf("start detection: %w", err)
	}
	return nil
}

type evidenceClient struct {
	client  *http.Client
	baseURL string
	logger  arbor.ILogger
}

func (c *evidenceClient) StartMatching(ctx context.Context, userID, syncID string) error {
	body := map[string]string{
		"user_id": userID,
		"sync_id": syncID,
	}
	if err := postJSON(ctx, c.client, c.baseURL+"/v1/matchings", body, nil); err != nil {
		return fmt.Errorf("start evidence matching: %w", err)
	}
	return nil
}

type claimClient struct {
	client  *http.Client
	baseURL string
	logger  arbor.ILogger
}

func (c *claimClient) ListMatches(ctx context.Context, userID, syncID string) ([]interfaces.ClaimMatch, error) {
	var resp struct {
		Matches []interfaces.ClaimMatch `json:"matches"`
	}
	u := fmt.Sprintf("%s/v1/matches?user_id=%s&sync_id=%s",
		c.baseURL, url.QueryEscape(userID), url.QueryEscape(syncID))
	if err := getJSON(ctx, c.client, u, &resp); err != nil {
		return nil, fmt.Errorf("list claim matches: %w", err)
	}
	return resp.Matches, nil
}

func (c *claimClient) SubmitClaim(ctx context.Context, userID, claimID string) error {
	body := map[string]string{
		"user_id":  userID,
		"claim_id": claimID,
	}
	if err := postJSON(ctx, c.client, c.baseURL+"/v1/claims", body, nil); err != nil {
		return fmt.Errorf("submit claim: %w", err)
	}

	c.logger.Debug().
		Str("user_id", userID).
		Str("claim_id", claimID).
		Msg("Claim submitted")
	return nil
}

func (c *claimClient) RequestClarification(ctx context.Context, userID, claimID string) error {
	body := map[string]string{
		"user_id":  userID,
		"claim_id": claimID,
	}
	if err := postJSON(ctx, c.client, c.baseURL+"/v1/clarifications", body, nil); err != nil {
		return fmt.Errorf("request clarification: %w", err)
	}
	return nil
}

type paymentClient struct {
	client  *http.Client
	baseURL string
	logger  arbor.ILogger
}

func (c *paymentClient) RecordFeeShare(ctx context.Context, userID string, payoutAmount float64) error {
	body := map[string]interface{}{
		"user_id":       userID,
		"payout_amount": payoutAmount,
	}
	if err := postJSON(ctx, c.client, c.baseURL+"/v1/fee-shares", body, nil); err != nil {
		return fmt.Errorf("record fee share: %w", err)
	}
	return nil
}
