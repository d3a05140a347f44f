// Package messages defines the agent control-plane API catalog: the closed
// set of requests an agent may send and the closed set of responses the
// control plane may answer with.
//
// Requests travel as a JSON object tagged with a kebab-case "type" field and
// the payload's own fields beside it:
//
//	{"type":"exchange-claim-for-secret","claim_key":"c9d1..."}
//
// Responses carry no mandatory tag. They are told apart by shape, see
// package client for the decoding rules.
package messages

// RequestType names a request variant on the wire.
type RequestType string

// Request variants.
const (
	RequestGetControlAddr             RequestType = "get-control-addr"
	RequestSignControlRequest         RequestType = "sign-control-request"
	RequestGenerateSharedTunnelSecret RequestType = "generate-shared-tunnel-secret"
	RequestExchangeClaimForSecret     RequestType = "exchange-claim-for-secret"
	RequestGetAgentConfig             RequestType = "get-agent-config"
)

// ResponseType names a response variant.
type ResponseType string

// Response variants.
const (
	ResponseControlAddress      ResponseType = "control-address"
	ResponseSignedTunnelRequest ResponseType = "signed-tunnel-request"
	ResponseSessionSecret       ResponseType = "session-secret"
	ResponseAgentSecret         ResponseType = "agent-secret"
	ResponseAgentConfig         ResponseType = "agent-config"
)

// expectedResponse is the fixed request → response table. Every request
// variant has exactly one acceptable answer.
var expectedResponse = map[RequestType]ResponseType{
	RequestGetControlAddr:             ResponseControlAddress,
	RequestSignControlRequest:         ResponseSignedTunnelRequest,
	RequestGenerateSharedTunnelSecret: ResponseSessionSecret,
	RequestExchangeClaimForSecret:     ResponseAgentSecret,
	RequestGetAgentConfig:             ResponseAgentConfig,
}

// Expects returns the only response variant that is a valid answer to t.
// It returns "" for a type outside the catalog.
func (t RequestType) Expects() ResponseType {
	return expectedResponse[t]
}

// Valid reports whether t is a member of the request catalog.
func (t RequestType) Valid() bool {
	_, ok := expectedResponse[t]
	return ok
}

// RequestTypes lists the request catalog in declaration order.
func RequestTypes() []RequestType {
	return []RequestType{
		RequestGetControlAddr,
		RequestSignControlRequest,
		RequestGenerateSharedTunnelSecret,
		RequestExchangeClaimForSecret,
		RequestGetAgentConfig,
	}
}

// ResponseTypes lists the response catalog in the order the decoder tries
// the shapes.
func ResponseTypes() []ResponseType {
	return []ResponseType{
		ResponseControlAddress,
		ResponseSignedTunnelRequest,
		ResponseSessionSecret,
		ResponseAgentSecret,
		ResponseAgentConfig,
	}
}

// Request is implemented by every request variant and nothing else.
type Request interface {
	RequestType() RequestType
	request()
}

// GetControlAddr asks for the address of the tunnel control channel.
type GetControlAddr struct{}

// SignControlRequest asks the control plane to sign a tunnel request.
type SignControlRequest TunnelRequest

// GenerateSharedTunnelSecret asks for a session secret bound to a registration.
type GenerateSharedTunnelSecret AgentRegistered

// ExchangeClaimForSecret trades a one-time claim key for the agent secret.
type ExchangeClaimForSecret struct {
	ClaimKey string `json:"claim_key"`
}

// GetAgentConfig asks for the agent's current configuration.
type GetAgentConfig struct{}

func (GetControlAddr) RequestType() RequestType             { return RequestGetControlAddr }
func (SignControlRequest) RequestType() RequestType         { return RequestSignControlRequest }
func (GenerateSharedTunnelSecret) RequestType() RequestType { return RequestGenerateSharedTunnelSecret }
func (ExchangeClaimForSecret) RequestType() RequestType     { return RequestExchangeClaimForSecret }
func (GetAgentConfig) RequestType() RequestType             { return RequestGetAgentConfig }

func (GetControlAddr) request()             {}
func (SignControlRequest) request()         {}
func (GenerateSharedTunnelSecret) request() {}
func (ExchangeClaimForSecret) request()     {}
func (GetAgentConfig) request()             {}

// NewRequest returns a pointer to a zero request of type t, ready to be
// decoded into. ok is false for a type outside the catalog.
func NewRequest(t RequestType) (req any, ok bool) {
	switch t {
	case RequestGetControlAddr:
		return &GetControlAddr{}, true
	case RequestSignControlRequest:
		return &SignControlRequest{}, true
	case RequestGenerateSharedTunnelSecret:
		return &GenerateSharedTunnelSecret{}, true
	case RequestExchangeClaimForSecret:
		return &ExchangeClaimForSecret{}, true
	case RequestGetAgentConfig:
		return &GetAgentConfig{}, true
	}
	return nil, false
}

// Response is implemented by pointers to the response variants.
type Response interface {
	ResponseType() ResponseType
	response()
}

// ControlAddress carries the ip:port of the tunnel control channel.
type ControlAddress struct {
	ControlAddress string `json:"control_address"`
}

// SignedTunnelRequest is a SignedRPCRequest over a TunnelRequest.
type SignedTunnelRequest SignedRPCRequest[TunnelRequest]

// AgentSecret carries the persistent agent secret obtained from a claim.
type AgentSecret struct {
	SecretKey string `json:"secret_key"`
}

func (*ControlAddress) ResponseType() ResponseType      { return ResponseControlAddress }
func (*SignedTunnelRequest) ResponseType() ResponseType { return ResponseSignedTunnelRequest }
func (*SessionSecret) ResponseType() ResponseType       { return ResponseSessionSecret }
func (*AgentSecret) ResponseType() ResponseType         { return ResponseAgentSecret }
func (*AgentConfig) ResponseType() ResponseType         { return ResponseAgentConfig }

func (*ControlAddress) response()      {}
func (*SignedTunnelRequest) response() {}
func (*SessionSecret) response()       {}
func (*AgentSecret) response()         {}
func (*AgentConfig) response()         {}

// NewResponse returns a zero value of the response variant t.
func NewResponse(t ResponseType) (Response, bool) {
	switch t {
	case ResponseControlAddress:
		return &ControlAddress{}, true
	case ResponseSignedTunnelRequest:
		return &SignedTunnelRequest{}, true
	case ResponseSessionSecret:
		return &SessionSecret{}, true
	case ResponseAgentSecret:
		return &AgentSecret{}, true
	case ResponseAgentConfig:
		return &AgentConfig{}, true
	}
	return nil, false
}
