package telephony

import (
	"context"
	"testing"
)

func TestSIPProvider_ImplementsProvider(t *testing.T) {
	var _ Provider = (*SIPProvider)(nil)
}

func TestSIPProvider_OriginateRequiresConfig(t *testing.T) {
	p := &SIPProvider{}
	if _, err := p.Originate(context.Background(), OriginateRequest{CallID: "c", To: "+15550001", RoutingIdentity: "line-1"}); err == nil {
		t.Fatalf("expected error without gateway addr")
	}
}

func TestSIPProvider_OriginateEchoesCallID(t *testing.T) {
	p := &SIPProvider{GatewayAddr: "gw.example.com:5060", CallerDomain: "dialer.example.com"}
	res, err := p.Originate(context.Background(), OriginateRequest{CallID: "call-1", To: "+15550001", RoutingIdentity: "line-1"})
	if err != nil {
		t.Fatalf("originate: %v", err)
	}
	if res.ProviderCallID == "" {
		t.Fatalf("expected provider call id")
	}
}

func TestSIPProvider_OriginateValidatesFields(t *testing.T) {
	p := &SIPProvider{GatewayAddr: "gw.example.com:5060"}
	if _, err := p.Originate(context.Background(), OriginateRequest{CallID: "c"}); err == nil {
		t.Fatalf("expected error without destination")
	}
	if _, err := p.Originate(context.Background(), OriginateRequest{CallID: "c", To: "+15550001"}); err == nil {
		t.Fatalf("expected error without routing identity")
	}
}
