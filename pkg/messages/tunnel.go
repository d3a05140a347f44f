package messages

import (
	"github.com/google/uuid"
)

// TunnelRequest asks the control plane to admit an agent onto a tunnel server.
// The agent sends it to the API for signing and then presents the signed
// form to the tunnel server.
type TunnelRequest struct {
	// AccountID owns the agent.
	AccountID uint64 `json:"account_id" validate:"required"`

	// AgentID identifies the agent within the account.
	AgentID uuid.UUID `json:"agent_id"`

	// AgentVersion is the agent's build number.
	AgentVersion uint64 `json:"agent_version"`

	// Timestamp is the request time in milliseconds since the Unix epoch.
	Timestamp uint64 `json:"timestamp" validate:"required"`

	// ClientAddr is the agent's address as seen by the tunnel server.
	ClientAddr string `json:"client_addr" validate:"required,addrport"`

	// TunnelAddr is the tunnel server the agent wants to use.
	TunnelAddr string `json:"tunnel_addr" validate:"required,addrport"`
}

// SignedRPCRequest pairs a request with the control plane's signature over it.
// The signature is opaque to the agent and is passed through unchanged.
type SignedRPCRequest[T any] struct {
	Signature string `json:"signature"`
	Content   T      `json:"content"`
}

// AgentSessionID identifies one registered agent session.
type AgentSessionID struct {
	SessionID uuid.UUID `json:"session_id"`
	AccountID uint64    `json:"account_id" validate:"required"`
	AgentID   uuid.UUID `json:"agent_id"`
}

// AgentRegistered is the tunnel server's proof that an agent registered.
type AgentRegistered struct {
	ID AgentSessionID `json:"id"`

	// ExpiresAt is the expiry in milliseconds since the Unix epoch.
	ExpiresAt uint64 `json:"expires_at" validate:"required"`
}

// SessionSecret is the shared secret for one tunnel session.
type SessionSecret struct {
	AgentRegistered AgentRegistered `json:"agent_registered"`

	// Secret is opaque to the agent.
	Secret string `json:"secret"`
}
