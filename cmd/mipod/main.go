// Command mipod is the host driver's interactive CLI: it wraps a
// channel.Channel and a securemodule.StateMachine in a single process (the
// secure module's "isolated core" is modeled as synchronous dispatch
// rather than a second OS process) and exposes login, logout, query, share,
// play and digital_out as subcommands, plus cobra's built-in help. There is
// no exit command: each invocation runs one command and returns.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mipod/audiodrm/config"
	"github.com/mipod/audiodrm/internal/logger"
	"github.com/mipod/audiodrm/internal/metrics"
	"github.com/mipod/audiodrm/provision"
)

var rootCmd = &cobra.Command{
	Use:   "mipod",
	Short: "mipod is the audio DRM host driver CLI",
	Long: `mipod drives the secure module through the shared command channel:
login, query, share, play, and export songs while the secure module
enforces ownership, region, and shared-user policy on every chunk.`,
}

var (
	cfgFile     string
	secretsFile string
	mediaDir    string
	app         *App
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config directory (default: config cascade)")
	rootCmd.PersistentFlags().StringVar(&secretsFile, "secrets", "", "provisioned secrets YAML (overrides config)")
	rootCmd.PersistentFlags().StringVar(&mediaDir, "media-dir", "", "directory containing song files (overrides config)")

	cobra.OnInitialize(initApp)

	// Commands are registered in their own files: login.go, logout.go,
	// query.go, share.go, play.go, digitalout.go.
}

func initApp() {
	opts := config.DefaultLoaderOptions()
	if cfgFile != "" {
		opts.ConfigDir = cfgFile
	}
	cfg, err := config.Load(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if secretsFile != "" {
		cfg.Provision.SecretsFile = secretsFile
	}
	if mediaDir != "" {
		cfg.Media.Dir = mediaDir
	}

	secrets, err := provision.Load(cfg.Provision.SecretsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading provisioned secrets: %v\n", err)
		os.Exit(1)
	}

	logger.SetDefaultLogger(logger.NewLogger(os.Stdout, parseLevel(cfg.Logging.Level)))
	log := logger.GetDefaultLogger()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Addr, cfg.Metrics.Path); err != nil {
				log.Error("metrics server stopped", logger.Error(err))
			}
		}()
	}

	app = NewApp(cfg, secrets)

	// The original calls query_player() once right after opening the
	// channel, before the command loop, to report the device's own
	// provisioned regions/users.
	if info, err := app.queryPlayer(); err != nil {
		log.Warn("query_player failed at startup", logger.Error(err))
	} else {
		log.Info("player provisioning",
			logger.Int("regions", len(info.Regions)),
			logger.Int("users", len(info.Users)))
	}
}

func parseLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
