package voiceprovider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
)

func newTestClient(srv *httptest.Server) *Client {
	return &Client{
		APIBaseURL: srv.URL,
		APIKey:     "test-key",
		HTTPClient: &http.Client{Timeout: 2 * time.Second},
	}
}

func TestApplyAssistantActionDisable(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	if err := c.ApplyAssistantAction(context.Background(), "asst-123", models.ReconcileActionDisable, nil); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Fatalf("expected PATCH, got %s", gotMethod)
	}
	if gotPath != "/assistant/asst-123" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
}

func TestApplyAssistantActionDeleteUsesDelete(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	if err := c.ApplyAssistantAction(context.Background(), "asst-123", models.ReconcileActionDelete, nil); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Fatalf("expected DELETE, got %s", gotMethod)
	}
}

func TestApplyAssistantActionNotFoundIsSuccessForDisableAndDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	for _, action := range []string{models.ReconcileActionDisable, models.ReconcileActionDelete} {
		if err := c.ApplyAssistantAction(context.Background(), "gone", action, nil); err != nil {
			t.Fatalf("expected 404 to count as success for %s, got %v", action, err)
		}
	}
}

func TestApplyAssistantActionNotFoundFailsForEnable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.ApplyAssistantAction(context.Background(), "gone", models.ReconcileActionEnable, nil)
	if err == nil {
		t.Fatalf("expected error for 404 on enable")
	}
	if apperrors.IsRetryable(err) {
		t.Fatalf("expected 404 on enable to be permanent, got retryable: %v", err)
	}
}

func TestApplyAssistantActionServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.ApplyAssistantAction(context.Background(), "asst-123", models.ReconcileActionDisable, nil)
	if err == nil {
		t.Fatalf("expected error for 502")
	}
	if !apperrors.IsKind(err, apperrors.KindProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if !apperrors.IsRetryable(err) {
		t.Fatalf("expected 502 to be retryable")
	}
}

func TestApplyAssistantActionBadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.ApplyAssistantAction(context.Background(), "asst-123", models.ReconcileActionUpdate, map[string]interface{}{"name": "x"})
	if err == nil {
		t.Fatalf("expected error for 400")
	}
	if apperrors.IsRetryable(err) {
		t.Fatalf("expected 400 to be permanent")
	}
}

func TestApplyAssistantActionNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := newTestClient(srv)
	err := c.ApplyAssistantAction(context.Background(), "asst-123", models.ReconcileActionDisable, nil)
	if err == nil {
		t.Fatalf("expected network error")
	}
	if !apperrors.IsRetryable(err) {
		t.Fatalf("expected network error to be retryable")
	}
}

func TestApplyAssistantActionRequiresAPIKey(t *testing.T) {
	c := &Client{APIBaseURL: "http://localhost:1", HTTPClient: http.DefaultClient}
	if err := c.ApplyAssistantAction(context.Background(), "asst-123", models.ReconcileActionDisable, nil); err == nil {
		t.Fatalf("expected missing API key to fail")
	}
}
