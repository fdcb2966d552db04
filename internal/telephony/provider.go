package telephony

import "context"

// Provider is the narrow telephony-transport contract the scheduler
// depends on: originate a call, answer a health probe. Call-end and
// keypress signals arrive inbound through the webhook handlers.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Keep request/response types provider-agnostic; store provider raw
//   payloads in metadata if needed.
// - Adapters hold no business logic; dial decisions belong to the dialer.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	Originate(ctx context.Context, req OriginateRequest) (OriginateResult, error)
}

// OriginateRequest asks the transport to place one outbound call.
type OriginateRequest struct {
	// CallID is the scheduler's identity for the call; the transport must
	// echo it on every signal about this call.
	CallID string `json:"call_id"`

	// To is the contact's number, E.164 where possible.
	To string `json:"to"`

	// RoutingIdentity is the campaign's caller/line identity.
	RoutingIdentity string `json:"routing_identity"`

	CampaignID string `json:"campaign_id"`

	// Metadata is optional context for the transport (IVR script id etc).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OriginateResult reports a successfully placed origination.
type OriginateResult struct {
	// ProviderCallID is the transport's own identifier for the call leg.
	ProviderCallID string `json:"provider_call_id"`
}
