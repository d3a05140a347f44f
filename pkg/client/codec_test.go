package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/jmerrifield20/tunnelagent/pkg/messages"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name string
		req  messages.Request
		want string
	}{
		{"no payload", messages.GetControlAddr{}, `{"type":"get-control-addr"}`},
		{"agent config", messages.GetAgentConfig{}, `{"type":"get-agent-config"}`},
		{"claim", messages.ExchangeClaimForSecret{ClaimKey: "abc"}, `{"claim_key":"abc","type":"exchange-claim-for-secret"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := encodeRequest(tc.req)
			if err != nil {
				t.Fatalf("encodeRequest: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestEncodeRequest_flattensPayload(t *testing.T) {
	got, err := encodeRequest(messages.GenerateSharedTunnelSecret{
		ID:        messages.AgentSessionID{AccountID: 9},
		ExpiresAt: 1234,
	})
	if err != nil {
		t.Fatal(err)
	}
	var obj map[string]any
	if err := json.Unmarshal(got, &obj); err != nil {
		t.Fatal(err)
	}
	if obj["type"] != "generate-shared-tunnel-secret" {
		t.Errorf("type = %v", obj["type"])
	}
	if obj["expires_at"] != float64(1234) {
		t.Errorf("expires_at = %v", obj["expires_at"])
	}
	if _, ok := obj["id"].(map[string]any); !ok {
		t.Errorf("id = %v, want object", obj["id"])
	}
}

const agentConfigBody = `{"last_update":1,"control_address":"10.0.0.1:5525","refresh_from_api":false,"secret_key":"k","ping_targets":["nowhere"],"mappings":[{"proto":"sctp","tunnel_ip":"10.1.1.1","tunnel_from_port":0,"local_ip":"127.0.0.1","local_port":0,"enabled":true}]}`

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantResp  messages.ResponseType
		wantCode  uint16
		wantError bool
	}{
		{"control address", `{"control_address":"10.0.0.1:5525"}`, messages.ResponseControlAddress, 0, false},
		{"agent secret", `{"secret_key":"k"}`, messages.ResponseAgentSecret, 0, false},
		{"agent secret empty", `{"secret_key":""}`, messages.ResponseAgentSecret, 0, false},
		{"agent secret extra field", `{"secret_key":"k","issued_at":1}`, messages.ResponseAgentSecret, 0, false},
		{"tagged agent secret", `{"type":"agent-secret","secret_key":"k"}`, messages.ResponseAgentSecret, 0, false},
		{"agent config wins over its parts", agentConfigBody, messages.ResponseAgentConfig, 0, false},
		{"opaque signature", `{"signature":"sig:v1:abc","content":{"account_id":0,"agent_id":"0b7e5d2c-1a3f-4c6e-8f90-123456789abc","agent_version":0,"timestamp":0,"client_addr":"","tunnel_addr":""}}`, messages.ResponseSignedTunnelRequest, 0, false},
		{"nested unknown field", `{"agent_registered":{"id":{"session_id":"0b7e5d2c-1a3f-4c6e-8f90-123456789abc","account_id":1,"agent_id":"0b7e5d2c-1a3f-4c6e-8f90-123456789abc","extra":1},"expires_at":1},"secret":"not hex"}`, messages.ResponseSessionSecret, 0, false},
		{"error object", `{"type":"error","code":418,"message":"teapot"}`, "", 418, false},
		{"error object empty message", `{"type":"error","code":500,"message":""}`, "", 500, false},
		{"error with extra field", `{"type":"error","code":500,"message":"x","trace":"y"}`, "", 500, false},
		{"error code as string", `{"type":"error","code":"404","message":"x"}`, "", 0, true},
		{"unknown tag", `{"type":"session-key","secret_key":"k"}`, "", 0, true},
		{"tag not a string", `{"type":7,"secret_key":"k"}`, "", 0, true},
		{"missing field", `{"signature":"c2ln"}`, "", 0, true},
		{"wrong field type", `{"secret_key":7}`, "", 0, true},
		{"two unrelated shapes", `{"control_address":"10.0.0.1:5525","signature":"s","content":{}}`, "", 0, true},
		{"scalar", `42`, "", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, werr, err := decodeEnvelope([]byte(tc.body))
			if tc.wantError {
				if err == nil {
					t.Fatalf("decodeEnvelope succeeded: resp=%v werr=%v", resp, werr)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeEnvelope: %v", err)
			}
			if resp != nil && werr != nil {
				t.Fatal("both a response and an error object")
			}
			if tc.wantCode != 0 {
				if werr == nil || werr.Code != tc.wantCode {
					t.Errorf("werr = %+v, want code %d", werr, tc.wantCode)
				}
				return
			}
			if resp == nil || resp.ResponseType() != tc.wantResp {
				t.Errorf("resp = %v, want %s", resp, tc.wantResp)
			}
		})
	}
}

func TestSelectShape(t *testing.T) {
	for _, rt := range messages.ResponseTypes() {
		obj := make(map[string]json.RawMessage)
		for _, k := range responseShapes[rt].required {
			obj[k] = json.RawMessage(`null`)
		}
		got, err := selectShape(messages.ResponseTypes(), obj)
		if err != nil {
			t.Errorf("%s: %v", rt, err)
			continue
		}
		if got != rt {
			t.Errorf("required keys of %s selected %s", rt, got)
		}
	}
}

func TestParseFailureIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "upstream \xff timeout") //nolint:errcheck
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.ErrorLevel)
	c := MustNew(srv.URL, WithLogger(zap.New(core)))

	_, err := c.GetAgentConfig(context.Background())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}

	entries := logs.FilterMessage("failed to parse response").All()
	if len(entries) != 1 {
		t.Fatalf("got %d parse log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	content, _ := fields["content"].(string)
	if content != "upstream � timeout" {
		t.Errorf("content = %q", content)
	}
	if fields["operation"] != string(messages.RequestGetAgentConfig) {
		t.Errorf("operation = %v", fields["operation"])
	}
	if fields["request_id"] == "" {
		t.Error("missing request_id")
	}
}
