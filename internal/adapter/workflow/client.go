// Package workflow is the REST client of the analysis workflow service.
package workflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/teardown"
)

// routes maps a market to its API prefix on the workflow service.
var routes = map[domain.MarketType]string{
	domain.MarketStock:  "/api/analysis",
	domain.MarketCoin:   "/api/coin/analysis",
	domain.MarketKiwoom: "/api/kr-stocks/analysis",
}

// Client calls the workflow service.
type Client struct {
	client *resty.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	return &Client{client: client}
}

// decisionRequest is the body of the approve endpoint.
type decisionRequest struct {
	SessionID string          `json:"session_id"`
	Decision  domain.Decision `json:"decision"`
	Feedback  string          `json:"feedback,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func route(market domain.MarketType) (string, error) {
	prefix, ok := routes[market]
	if !ok {
		return "", fmt.Errorf("unknown market %q", market)
	}
	return prefix, nil
}

// Cancel asks the service to stop a running session.
func (c *Client) Cancel(ctx context.Context, market domain.MarketType, sessionID string) error {
	prefix, err := route(market)
	if err != nil {
		return err
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("session_id", sessionID).
		SetError(&errorResponse{}).
		Post(prefix + "/cancel/{session_id}")
	if err != nil {
		return fmt.Errorf("failed to cancel session %s: %w", sessionID, err)
	}
	// Already finished or unknown upstream: nothing left to cancel.
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return checkResponse(resp, "cancel")
}

// SubmitDecision delivers a human approval decision.
func (c *Client) SubmitDecision(ctx context.Context, market domain.MarketType, sessionID string, decision domain.Decision, feedback string) error {
	prefix, err := route(market)
	if err != nil {
		return err
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(decisionRequest{SessionID: sessionID, Decision: decision, Feedback: feedback}).
		SetError(&errorResponse{}).
		Post(prefix + "/approve")
	if err != nil {
		return fmt.Errorf("failed to submit decision for %s: %w", sessionID, err)
	}
	return checkResponse(resp, "approve")
}

// GetStatus fetches the service's current view of a session.
func (c *Client) GetStatus(ctx context.Context, market domain.MarketType, sessionID string) (*domain.RemoteStatus, error) {
	prefix, err := route(market)
	if err != nil {
		return nil, err
	}
	var status domain.RemoteStatus
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("session_id", sessionID).
		SetResult(&status).
		SetError(&errorResponse{}).
		Get(prefix + "/status/{session_id}")
	if err != nil {
		return nil, fmt.Errorf("failed to get status of %s: %w", sessionID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, domain.NewError(domain.KindNotFound, "status", sessionID, "unknown to workflow service")
	}
	if err := checkResponse(resp, "status"); err != nil {
		return nil, err
	}
	if status.SessionID == "" {
		status.SessionID = sessionID
	}
	return &status, nil
}

// Canceller binds Cancel to one market.
func (c *Client) Canceller(market domain.MarketType) teardown.Canceller {
	return teardown.CancelFunc(func(ctx context.Context, sessionID string) error {
		return c.Cancel(ctx, market, sessionID)
	})
}

// Cancellers returns a canceller for every market.
func (c *Client) Cancellers() map[domain.MarketType]teardown.Canceller {
	out := make(map[domain.MarketType]teardown.Canceller, len(domain.Markets))
	for _, m := range domain.Markets {
		out[m] = c.Canceller(m)
	}
	return out
}

func checkResponse(resp *resty.Response, op string) error {
	if !resp.IsError() {
		return nil
	}
	msg := resp.String()
	if e, ok := resp.Error().(*errorResponse); ok && e != nil {
		if e.Detail != "" {
			msg = e.Detail
		} else if e.Error != "" {
			msg = e.Error
		}
	}
	return fmt.Errorf("%s returned status %d: %s", op, resp.StatusCode(), msg)
}
