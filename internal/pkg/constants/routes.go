package constants

// Static route constants
const (
	HealthRoute  = "/health"
	MetricsRoute = "/metrics"

	APIGroup      = "/api"
	APIV1Group    = "/v1"
	WebhooksGroup = "/webhooks"
	AuthGroup     = "/auth"
	AccountGroup  = "/account"
	OpsGroup      = "/internal"
)
