package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/tunnelagent/pkg/messages"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ── control-addr ─────────────────────────────────────────────────────────────

var controlAddrCmd = &cobra.Command{
	Use:   "control-addr",
	Short: "Print the tunnel control channel address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		addr, err := c.GetControlAddr(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	},
}

// ── sign-tunnel ──────────────────────────────────────────────────────────────

var (
	signAccountID    uint64
	signAgentID      string
	signAgentVersion uint64
	signClientAddr   string
	signTunnelAddr   string
)

var signTunnelCmd = &cobra.Command{
	Use:   "sign-tunnel",
	Short: "Have the control plane sign a tunnel request",
	Long: `sign-tunnel sends a tunnel request for signing and prints the signed
request as JSON. Requires an agent secret.

  agentctl sign-tunnel --account-id 7 --agent-id 6f1c1f2e-... \
      --client-addr 198.51.100.2:40000 --tunnel-addr 203.0.113.20:5525`,
	Args: cobra.NoArgs,
	RunE: runSignTunnel,
}

func init() {
	f := signTunnelCmd.Flags()
	f.Uint64Var(&signAccountID, "account-id", 0, "Account that owns the agent")
	f.StringVar(&signAgentID, "agent-id", "", "Agent UUID")
	f.Uint64Var(&signAgentVersion, "agent-version", 0, "Agent build number")
	f.StringVar(&signClientAddr, "client-addr", "", "Agent ip:port as seen by the tunnel server")
	f.StringVar(&signTunnelAddr, "tunnel-addr", "", "Tunnel server ip:port")
	for _, name := range []string{"account-id", "agent-id", "client-addr", "tunnel-addr"} {
		_ = signTunnelCmd.MarkFlagRequired(name)
	}
}

func runSignTunnel(cmd *cobra.Command, args []string) error {
	agentID, err := uuid.Parse(signAgentID)
	if err != nil {
		return fmt.Errorf("invalid --agent-id: %w", err)
	}
	req := messages.TunnelRequest{
		AccountID:    signAccountID,
		AgentID:      agentID,
		AgentVersion: signAgentVersion,
		Timestamp:    uint64(time.Now().UnixMilli()),
		ClientAddr:   signClientAddr,
		TunnelAddr:   signTunnelAddr,
	}
	if err := messages.Validate(&req); err != nil {
		return fmt.Errorf("invalid tunnel request: %w", err)
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	signed, err := c.SignTunnelRequest(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printJSON(signed)
}

// ── session-secret ───────────────────────────────────────────────────────────

var (
	sessionID        string
	sessionAccountID uint64
	sessionAgentID   string
	sessionExpiresAt uint64
)

var sessionSecretCmd = &cobra.Command{
	Use:   "session-secret",
	Short: "Generate the shared secret for a registered tunnel session",
	Args:  cobra.NoArgs,
	RunE:  runSessionSecret,
}

func init() {
	f := sessionSecretCmd.Flags()
	f.StringVar(&sessionID, "session-id", "", "Session UUID from the tunnel server")
	f.Uint64Var(&sessionAccountID, "account-id", 0, "Account that owns the agent")
	f.StringVar(&sessionAgentID, "agent-id", "", "Agent UUID")
	f.Uint64Var(&sessionExpiresAt, "expires-at", 0, "Registration expiry, milliseconds since the Unix epoch")
	for _, name := range []string{"session-id", "account-id", "agent-id", "expires-at"} {
		_ = sessionSecretCmd.MarkFlagRequired(name)
	}
}

func runSessionSecret(cmd *cobra.Command, args []string) error {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("invalid --session-id: %w", err)
	}
	aid, err := uuid.Parse(sessionAgentID)
	if err != nil {
		return fmt.Errorf("invalid --agent-id: %w", err)
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	secret, err := c.GenerateSharedTunnelSecret(cmd.Context(), messages.AgentRegistered{
		ID:        messages.AgentSessionID{SessionID: sid, AccountID: sessionAccountID, AgentID: aid},
		ExpiresAt: sessionExpiresAt,
	})
	if err != nil {
		return err
	}
	return printJSON(secret)
}

// ── claim ────────────────────────────────────────────────────────────────────

var claimSave bool

var claimCmd = &cobra.Command{
	Use:   "claim <claim-key>",
	Short: "Exchange a claim key for the agent secret",
	Long: `claim performs one claim exchange. If the claim has not been accepted
yet it says so and exits 0; run it again once the claim is accepted.

With --save the secret is written to the config file so later commands
authenticate automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: runClaim,
}

func init() {
	claimCmd.Flags().BoolVar(&claimSave, "save", false, "Write the secret to the config file")
}

func runClaim(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	secret, ok, err := c.TryExchangeClaimForSecret(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Claim not accepted yet. Accept it in the dashboard and run this again.")
		return nil
	}

	if !claimSave {
		fmt.Println(secret)
		return nil
	}
	path, err := saveSecret(secret)
	if err != nil {
		return fmt.Errorf("save secret: %w", err)
	}
	logger.Info("agent secret saved", zap.String("config", path))
	fmt.Printf("✓ Agent claimed, secret saved to %s\n", path)
	return nil
}

// saveSecret stores secret under agent_secret in the config file in use, or
// creates ~/.agentctl/config.yaml. Only that key is added to what the file
// already holds, so flags and environment of this run are not persisted.
func saveSecret(secret string) (string, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		path = filepath.Join(home, ".agentctl", "config.yaml")
	}
	return path, writeSecret(path, secret)
}

func writeSecret(path, secret string) error {
	file := viper.New()
	file.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		file.SetConfigType("yaml")
	}
	if err := file.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
	file.Set("agent_secret", secret)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := file.WriteConfigAs(path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// ── agent-config ─────────────────────────────────────────────────────────────

var agentConfigCmd = &cobra.Command{
	Use:   "agent-config",
	Short: "Print the agent's configuration as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if !c.Authenticated() {
			logger.Warn("no agent secret configured, the control plane will likely reject this call")
		}
		cfg, err := c.GetAgentConfig(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cfg)
	},
}
