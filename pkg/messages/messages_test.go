package messages_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jmerrifield20/tunnelagent/pkg/messages"
)

func TestExpects_totalAndUnique(t *testing.T) {
	seen := make(map[messages.ResponseType]messages.RequestType)
	for _, rt := range messages.RequestTypes() {
		if !rt.Valid() {
			t.Errorf("%s: not valid", rt)
		}
		want := rt.Expects()
		if want == "" {
			t.Fatalf("%s: no expected response", rt)
		}
		if prev, dup := seen[want]; dup {
			t.Errorf("%s and %s both expect %s", prev, rt, want)
		}
		seen[want] = rt
		if _, ok := messages.NewResponse(want); !ok {
			t.Errorf("%s expects %s which is not in the response catalog", rt, want)
		}
	}
	if len(seen) != len(messages.ResponseTypes()) {
		t.Errorf("%d responses reachable, catalog has %d", len(seen), len(messages.ResponseTypes()))
	}
}

func TestExpects_unknown(t *testing.T) {
	rt := messages.RequestType("delete-everything")
	if rt.Valid() {
		t.Error("unknown request type reported valid")
	}
	if got := rt.Expects(); got != "" {
		t.Errorf("Expects = %q, want empty", got)
	}
}

func TestNewRequest_matchesTag(t *testing.T) {
	for _, rt := range messages.RequestTypes() {
		v, ok := messages.NewRequest(rt)
		if !ok {
			t.Fatalf("%s: NewRequest failed", rt)
		}
		var req messages.Request
		switch r := v.(type) {
		case *messages.GetControlAddr:
			req = *r
		case *messages.SignControlRequest:
			req = *r
		case *messages.GenerateSharedTunnelSecret:
			req = *r
		case *messages.ExchangeClaimForSecret:
			req = *r
		case *messages.GetAgentConfig:
			req = *r
		default:
			t.Fatalf("%s: unexpected type %T", rt, v)
		}
		if req.RequestType() != rt {
			t.Errorf("NewRequest(%s) built %s", rt, req.RequestType())
		}
	}
	if _, ok := messages.NewRequest("nope"); ok {
		t.Error("NewRequest accepted an unknown type")
	}
}

func TestNewResponse_matchesTag(t *testing.T) {
	for _, rt := range messages.ResponseTypes() {
		r, ok := messages.NewResponse(rt)
		if !ok {
			t.Fatalf("%s: NewResponse failed", rt)
		}
		if r.ResponseType() != rt {
			t.Errorf("NewResponse(%s) built %s", rt, r.ResponseType())
		}
	}
}

func TestValidate(t *testing.T) {
	tunnel := messages.TunnelRequest{
		AccountID:  7,
		AgentID:    uuid.New(),
		Timestamp:  1700000000000,
		ClientAddr: "203.0.113.9:40000",
		TunnelAddr: "198.51.100.1:5525",
	}

	registered := messages.AgentRegistered{
		ID:        messages.AgentSessionID{SessionID: uuid.New(), AccountID: 7, AgentID: uuid.New()},
		ExpiresAt: 1700000600000,
	}
	hostname := tunnel
	hostname.TunnelAddr = "tunnel.example.com:5525"
	ipv6 := tunnel
	ipv6.ClientAddr = "[2001:db8::1]:40000"
	noAccount := tunnel
	noAccount.AccountID = 0
	noExpiry := registered
	noExpiry.ExpiresAt = 0

	tests := []struct {
		name    string
		v       any
		wantErr bool
	}{
		{"tunnel request ok", &tunnel, false},
		{"tunnel request ipv6", &ipv6, false},
		{"tunnel request hostname", &hostname, true},
		{"tunnel request no account", &noAccount, true},
		{"tunnel request empty", &messages.TunnelRequest{}, true},
		{"registration ok", &registered, false},
		{"registration no expiry", &noExpiry, true},
		{"signed request payload", messages.SignControlRequest(tunnel), false},
		// Responses carry no value rules.
		{"agent secret empty", &messages.AgentSecret{}, false},
		{"agent config empty", &messages.AgentConfig{}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := messages.Validate(tc.v)
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
