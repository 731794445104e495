package cli

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"github.com/interledgermesh/connector/buildinfo"
	httpclient "github.com/interledgermesh/connector/client/http"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/runner"
)

func init() {
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	DefaultHomeDir = filepath.Join(userHomeDir, ".ilp-connector")
}

// DefaultHomeDir is default home for the connector.
var DefaultHomeDir string

const (
	// FlagHome is home flag.
	FlagHome = "home"
	// FlagNodeID is node id flag.
	FlagNodeID = "node-id"
	// FlagNodeAddress is node ILP address flag.
	FlagNodeAddress = "node-address"
	// FlagAsset is account asset flag.
	FlagAsset = "asset"
	// FlagBTPListenAddress is BTP listen address flag.
	FlagBTPListenAddress = "btp-listen-address"
	// FlagSettlementPreference is settlement preference flag.
	FlagSettlementPreference = "settlement-preference"
	// FlagEVMRPCURL is EVM RPC URL flag.
	FlagEVMRPCURL = "evm-rpc-url"
	// FlagXRPLRPCURL is XRPL RPC URL flag.
	FlagXRPLRPCURL = "xrpl-rpc-url"
	// FlagMetricsEnabled enables metrics server.
	FlagMetricsEnabled = "metrics-enabled"
	// FlagMetricsListenAddr sets listen address for metrics server.
	FlagMetricsListenAddr = "metrics-listen-addr"
	// FlagAPIURL is the node control API URL flag.
	FlagAPIURL = "api-url"
)

// Runner is a runner interface.
type Runner interface {
	Start(ctx context.Context) error
}

// RunnerProvider is function which returns the Runner from the input cmd.
type RunnerProvider func(cmd *cobra.Command) (Runner, error)

// NewRunnerFromHome returns runner from home. The backends carry the
// external on-ledger submission clients; zero-value backends leave the
// matching settlement methods disabled.
func NewRunnerFromHome(cmd *cobra.Command, backends runner.Backends) (*runner.Runner, error) {
	cfg, err := GetHomeRunnerConfig(cmd)
	if err != nil {
		return nil, err
	}

	zapLogger, err := logger.NewZapLogger(logger.ZapLoggerConfig{
		Level:  cfg.LoggingConfig.Level,
		Format: cfg.LoggingConfig.Format,
	})
	if err != nil {
		return nil, err
	}

	components, err := runner.NewComponents(cmd.Context(), cfg, backends, zapLogger)
	if err != nil {
		return nil, err
	}

	rnr, err := runner.NewRunner(components, cfg)
	if err != nil {
		return nil, err
	}

	return rnr, nil
}

// InitCmd returns the init cmd.
func InitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initializes the connector home with the default config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home, err := getConnectorHome(cmd)
			if err != nil {
				return err
			}
			log, err := GetCLILogger()
			if err != nil {
				return err
			}
			log.Info(ctx, "Generating settings", zap.String("home", home))

			cfg, err := configFromInitFlags(cmd.Flags())
			if err != nil {
				return err
			}

			if err := runner.InitConfig(home, cfg); err != nil {
				return err
			}
			log.Info(ctx, "Settings are generated successfully")
			return nil
		},
	}

	addInitFlags(cmd.PersistentFlags())
	AddHomeFlag(cmd)

	return cmd
}

// StartCmd returns the start cmd.
func StartCmd(pp RunnerProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start connector node.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rnr, err := pp(cmd)
			if err != nil {
				return err
			}

			return rnr.Start(cmd.Context())
		},
	}
	AddHomeFlag(cmd)

	return cmd
}

// BalancesCmd prints the node's bilateral account balances.
func BalancesCmd() *cobra.Command {
	return queryCmd("balances", "Print the node bilateral account balances.", "/api/balances")
}

// RoutesCmd prints the node's routing table.
func RoutesCmd() *cobra.Command {
	return queryCmd("routes", "Print the node routing table.", "/api/routes")
}

// ChannelsCmd prints the node's payment channels.
func ChannelsCmd() *cobra.Command {
	return queryCmd("channels", "Print the node payment channels.", "/api/channels")
}

// RecentSettlementsCmd prints the most recent completed settlements.
func RecentSettlementsCmd() *cobra.Command {
	return queryCmd("recent-settlements", "Print the most recent completed settlements.", "/api/settlements/recent")
}

// VersionCmd returns a CLI command to interactively print the application binary version information.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application binary version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := GetCLILogger()
			if err != nil {
				return err
			}
			log.Info(
				cmd.Context(),
				"Version Info",
				zap.String("Git Tag", buildinfo.VersionTag),
				zap.String("Git Commit", buildinfo.GitCommit),
			)
			return nil
		},
	}
}

// GetCLILogger returns the console logger initialised with the default logger config.
func GetCLILogger() (*logger.ZapLogger, error) {
	zapLogger, err := logger.NewZapLogger(logger.ZapLoggerConfig{
		Level:  "info",
		Format: "console",
	})
	if err != nil {
		return nil, err
	}

	return zapLogger, nil
}

// GetHomeRunnerConfig reads runner config from home directory.
func GetHomeRunnerConfig(cmd *cobra.Command) (runner.Config, error) {
	home, err := getConnectorHome(cmd)
	if err != nil {
		return runner.Config{}, err
	}

	cfg, err := runner.ReadConfig(home)
	if err != nil {
		return runner.Config{}, err
	}

	return cfg, nil
}

// AddHomeFlag adds home flag to the command.
func AddHomeFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String(FlagHome, DefaultHomeDir, "Connector home directory")
}

func addInitFlags(flags *pflag.FlagSet) {
	defaultCfg := runner.DefaultConfig()
	flags.String(FlagNodeID, "", "Logical node identity used in telemetry and auth.")
	flags.String(FlagNodeAddress, "", "ILP address of this node.")
	flags.String(FlagAsset, defaultCfg.Node.Asset, "Asset the bilateral accounts are denominated in.")
	flags.String(FlagBTPListenAddress, defaultCfg.BTP.ListenAddress, "Inbound BTP WebSocket listen address.")
	flags.String(FlagSettlementPreference, defaultCfg.Settlement.Preference, "Settlement methods to enable: evm, xrp or both.")
	flags.String(FlagEVMRPCURL, "", "EVM JSON-RPC address.")
	flags.String(FlagXRPLRPCURL, "", "XRPL JSON-RPC address.")
	flags.Bool(FlagMetricsEnabled, false, "Start metric server in the connector.")
	flags.String(FlagMetricsListenAddr, defaultCfg.Metrics.Server.ListenAddress, "Address metrics server listens on.")
}

func configFromInitFlags(flags *pflag.FlagSet) (runner.Config, error) {
	cfg := runner.DefaultConfig()
	for flag, target := range map[string]*string{
		FlagNodeID:               &cfg.Node.ID,
		FlagNodeAddress:          &cfg.Node.Address,
		FlagAsset:                &cfg.Node.Asset,
		FlagBTPListenAddress:     &cfg.BTP.ListenAddress,
		FlagSettlementPreference: &cfg.Settlement.Preference,
		FlagEVMRPCURL:            &cfg.Settlement.EVM.RPCURL,
		FlagXRPLRPCURL:           &cfg.Settlement.XRP.URL,
		FlagMetricsListenAddr:    &cfg.Metrics.Server.ListenAddress,
	} {
		v, err := flags.GetString(flag)
		if err != nil {
			return runner.Config{}, errors.Wrapf(err, "failed to read %s", flag)
		}
		*target = v
	}

	metricsEnabled, err := flags.GetBool(FlagMetricsEnabled)
	if err != nil {
		return runner.Config{}, errors.Wrapf(err, "failed to read %s", FlagMetricsEnabled)
	}
	cfg.Metrics.Enabled = metricsEnabled

	return cfg, nil
}

// queryCmd builds a command calling one control API endpoint of a running
// node and rendering the JSON response as yaml.
func queryCmd(use, short, path string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			apiURL, err := getAPIURL(cmd)
			if err != nil {
				return err
			}

			var rendered []byte
			httpClient := httpclient.NewClient(httpclient.DefaultClientConfig())
			err = httpClient.DoJSON(cmd.Context(), http.MethodGet, apiURL+path, nil, func(resBytes []byte) error {
				rendered, err = yaml.JSONToYAML(resBytes)
				return errors.Wrap(err, "failed to render the response as yaml")
			})
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(rendered)
			return errors.WithStack(err)
		},
	}
	AddHomeFlag(cmd)
	cmd.PersistentFlags().String(FlagAPIURL, "", "Node control API URL, taken from the home config when empty.")

	return cmd
}

func getAPIURL(cmd *cobra.Command) (string, error) {
	apiURL, err := cmd.Flags().GetString(FlagAPIURL)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", FlagAPIURL)
	}
	if apiURL != "" {
		return strings.TrimRight(apiURL, "/"), nil
	}

	cfg, err := GetHomeRunnerConfig(cmd)
	if err != nil {
		return "", err
	}
	listen := cfg.API.ListenAddress
	if strings.HasPrefix(listen, ":") {
		listen = "localhost" + listen
	}
	return "http://" + listen, nil
}

func getConnectorHome(cmd *cobra.Command) (string, error) {
	home, err := cmd.Flags().GetString(FlagHome)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", FlagHome)
	}

	return home, nil
}
