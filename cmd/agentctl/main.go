// agentctl drives the agent control-plane API from the command line: claim
// an agent, look up its control address and config, sign tunnel requests,
// and run a local stub control plane for development.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmerrifield20/tunnelagent/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const defaultAPIURL = "https://api.tunnelagent.dev/agent"

var (
	cfgFile string
	verbose bool
	logger  *zap.Logger
)

func main() {
	err := rootCmd.Execute()
	if logger != nil {
		logger.Sync() //nolint:errcheck
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Tunnel agent control-plane client",
	Long: `agentctl talks to the agent control-plane API.

Settings come from flags, then AGENTCTL_* environment variables, then the
config file (default ~/.agentctl/config.yaml):

  api_url:              https://api.tunnelagent.dev/agent
  agent_secret:         <written by 'agentctl claim --save'>
  http_timeout_seconds: 10`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		l, err := newLogger(verbose)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		logger = l
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.agentctl/config.yaml)")
	pf.String("api", "", "agent API URL (default "+defaultAPIURL+")")
	pf.String("secret", "", "agent secret; omit to call unauthenticated")
	pf.Duration("timeout", 0, "HTTP timeout per call (default 10s)")
	pf.Bool("insecure", false, "Skip TLS certificate verification (development only)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Development logging at debug level")

	rootCmd.AddCommand(controlAddrCmd)
	rootCmd.AddCommand(signTunnelCmd)
	rootCmd.AddCommand(sessionSecretCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(agentConfigCmd)
	rootCmd.AddCommand(stubCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and environment and binds the global
// flags so flags win over both.
func loadConfig(cmd *cobra.Command) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(filepath.Join(home, ".agentctl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("AGENTCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("api_url", defaultAPIURL)
	viper.SetDefault("http_timeout_seconds", 10)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	pf := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"api_url":      "api",
		"agent_secret": "secret",
		"insecure":     "insecure",
	} {
		if err := viper.BindPFlag(key, pf.Lookup(flag)); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newClient builds an API client from the merged configuration.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	timeout := time.Duration(viper.GetInt("http_timeout_seconds")) * time.Second
	if d, _ := cmd.Flags().GetDuration("timeout"); d > 0 {
		timeout = d
	}

	opts := []client.Option{
		client.WithHTTPClient(&http.Client{Timeout: timeout}),
		client.WithAgentSecret(viper.GetString("agent_secret")),
		client.WithLogger(logger),
	}
	if viper.GetBool("insecure") {
		logger.Warn("TLS verification disabled, do not use in production")
		opts = append(opts, client.WithInsecureSkipVerify())
	}

	c, err := client.New(viper.GetString("api_url"), opts...)
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	return c, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agentctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("agentctl", version)
	},
}
