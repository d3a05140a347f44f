package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/jmerrifield20/tunnelagent/internal/stubserver"
	"github.com/jmerrifield20/tunnelagent/pkg/messages"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	stubListen      string
	stubControlAddr string
	stubSecrets     []string
	stubClaims      map[string]string
	stubSigningKey  string
	stubClaimRate   float64
	stubClaimBurst  int
	stubCORSOrigins []string
	stubAdminToken  string
)

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Run a local stub control plane",
	Long: `stub serves the agent API on --listen for local development. Claims
are accepted up front with --claim key=secret; agents authenticate with any
--accept-secret or with a secret handed out by a claim. Claims can also be
accepted while it runs, with the admin token (printed at startup unless
--admin-token is given):

  curl -X POST -H "Authorization: Bearer $TOKEN" \
      http://127.0.0.1:8480/claims/dev-claim/accept

The stub is a development tool. Keep --listen on loopback.

The agent config it serves is read from the stub.agent_config section of the
config file, see configs/agentctl.yaml.

  agentctl stub --claim dev-claim=dev-secret
  agentctl --api http://127.0.0.1:8480/ claim dev-claim`,
	Args: cobra.NoArgs,
	RunE: runStub,
}

func init() {
	f := stubCmd.Flags()
	f.StringVar(&stubListen, "listen", "127.0.0.1:8480", "HTTP listen address")
	f.StringVar(&stubControlAddr, "control-addr", "127.0.0.1:5525", "Address returned for get-control-addr")
	f.StringSliceVar(&stubSecrets, "accept-secret", nil, "Agent secret to accept (repeatable)")
	f.StringToStringVar(&stubClaims, "claim", nil, "Accepted claim as key=secret (repeatable)")
	f.StringVar(&stubSigningKey, "signing-key", "", "Key for request signatures (default random per run)")
	f.Float64Var(&stubClaimRate, "claim-rate", 1, "Claim exchanges per second per client IP, 0 for no limit")
	f.IntVar(&stubClaimBurst, "claim-burst", 5, "Claim exchange burst per client IP")
	f.StringSliceVar(&stubCORSOrigins, "cors-origin", nil, "Origin allowed to accept claims from a browser (repeatable)")
	f.StringVar(&stubAdminToken, "admin-token", "", "Bearer token for the claim admin endpoint (default random per run)")
}

func runStub(cmd *cobra.Command, args []string) error {
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	agentCfg, err := stubAgentConfig()
	if err != nil {
		return err
	}

	key := []byte(stubSigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("generate signing key: %w", err)
		}
	}
	if len(key) > 64 {
		return errors.New("--signing-key must be at most 64 bytes")
	}

	if ap, err := netip.ParseAddrPort(stubListen); err != nil || !ap.Addr().IsLoopback() {
		logger.Warn("stub listening beyond loopback, anyone who can reach it can claim agents",
			zap.String("addr", stubListen))
	}

	adminToken := stubAdminToken
	if adminToken == "" {
		raw := make([]byte, 16)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generate admin token: %w", err)
		}
		adminToken = hex.EncodeToString(raw)
		fmt.Fprintf(os.Stderr, "claim admin token: %s\n", adminToken)
	}

	stub := stubserver.New(stubserver.Config{
		ControlAddr:  stubControlAddr,
		AgentSecrets: stubSecrets,
		Claims:       stubClaims,
		SigningKey:   key,
		AgentConfig:  agentCfg,
		ClaimRate:    stubClaimRate,
		ClaimBurst:   stubClaimBurst,
		AdminToken:   adminToken,
		CORSOrigins:  stubCORSOrigins,
	}, logger)

	httpSrv := &http.Server{
		Addr:              stubListen,
		Handler:           stub.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stub control plane listening",
			zap.String("addr", stubListen),
			zap.String("control_addr", stubControlAddr),
			zap.Int("claims", len(stubClaims)),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down stub control plane...")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown", zap.Error(err))
	}
	logger.Info("stub control plane stopped")
	return nil
}

// stubAgentConfig loads stub.agent_config from the config file. Keys use the
// wire names, so the section is round-tripped through JSON.
func stubAgentConfig() (messages.AgentConfig, error) {
	var cfg messages.AgentConfig
	raw := viper.Get("stub.agent_config")
	if raw == nil {
		return cfg, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("stub.agent_config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("stub.agent_config: %w", err)
	}
	return cfg, nil
}
