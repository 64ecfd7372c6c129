// Package voiceprovider talks to the external voice platform's management
// API. The reconciliation worker uses it to mirror assistant state changes
// (disable, enable, delete, update) onto the provider.
package voiceprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
	"github.com/mhertel/voxgate/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.vapi.ai"

// Client is a thin HTTP client for the provider's assistant API.
type Client struct {
	APIBaseURL string
	APIKey     string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a client from VOICE_PROVIDER_* environment
// variables.
func NewClientFromEnv() *Client {
	return &Client{
		APIBaseURL: strings.TrimRight(env.GetEnv("VOICE_PROVIDER_API_BASE_URL", defaultAPIBaseURL), "/"),
		APIKey:     strings.TrimSpace(env.GetEnv("VOICE_PROVIDER_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ApplyAssistantAction mirrors one reconciliation action onto the provider.
// A 404 on disable or delete counts as success: the desired end state
// (assistant not reachable) already holds.
func (c *Client) ApplyAssistantAction(ctx context.Context, externalRef string, action string, payload map[string]interface{}) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("VOICE_PROVIDER_API_KEY is not configured")
	}
	if strings.TrimSpace(externalRef) == "" {
		return apperrors.Validation("assistant external ref is required")
	}

	var (
		method string
		body   map[string]interface{}
	)
	switch action {
	case models.ReconcileActionDisable:
		method = http.MethodPatch
		body = map[string]interface{}{"serverMessages": []string{}, "enabled": false}
	case models.ReconcileActionEnable:
		method = http.MethodPatch
		body = map[string]interface{}{"enabled": true}
	case models.ReconcileActionDelete:
		method = http.MethodDelete
	case models.ReconcileActionUpdate:
		method = http.MethodPatch
		body = payload
	default:
		return apperrors.Validation("unknown reconcile action %q", action)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	url := fmt.Sprintf("%s/assistant/%s", c.APIBaseURL, externalRef)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return apperrors.Provider(true, fmt.Sprintf("provider request failed for assistant %s", externalRef), err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound && (action == models.ReconcileActionDisable || action == models.ReconcileActionDelete):
		// Gone already; nothing left to disable or delete.
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperrors.Provider(true, fmt.Sprintf("provider returned status=%d body=%s", resp.StatusCode, truncate(respBody)), nil)
	default:
		return apperrors.Provider(false, fmt.Sprintf("provider rejected %s for assistant %s: status=%d body=%s", action, externalRef, resp.StatusCode, truncate(respBody)), nil)
	}
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
