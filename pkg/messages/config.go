package messages

// PortProto is the transport protocol of a port mapping.
type PortProto string

const (
	PortProtoTCP  PortProto = "tcp"
	PortProtoUDP  PortProto = "udp"
	PortProtoBoth PortProto = "both"
)

// AgentConfig is the configuration the control plane holds for an agent.
// Values are taken as sent; the agent runtime decides what it can serve.
type AgentConfig struct {
	// LastUpdate is a monotonically increasing version of this config.
	LastUpdate uint64 `json:"last_update"`

	// ControlAddress is the ip:port of the tunnel control channel.
	ControlAddress string `json:"control_address"`

	// RefreshFromAPI tells the agent to poll the API for config changes.
	RefreshFromAPI bool `json:"refresh_from_api"`

	// SecretKey is the agent secret the config was issued for.
	SecretKey string `json:"secret_key"`

	// PingTargets are ip:port addresses used to measure tunnel latency.
	PingTargets []string `json:"ping_targets"`

	// Mappings lists the tunnels the agent should serve.
	Mappings []PortMapping `json:"mappings"`
}

// PortMapping routes a range of tunnel ports to a local service.
type PortMapping struct {
	Name           string    `json:"name,omitempty"`
	Proto          PortProto `json:"proto"`
	TunnelIP       string    `json:"tunnel_ip"`
	TunnelFromPort uint16    `json:"tunnel_from_port"`
	TunnelToPort   uint16    `json:"tunnel_to_port,omitempty"`
	LocalIP        string    `json:"local_ip"`
	LocalPort      uint16    `json:"local_port"`
}
