// Package commands provides the CLI commands for crosstalk.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/crosstalk-ai/crosstalk/internal/client"
	"github.com/crosstalk-ai/crosstalk/internal/config"
	"github.com/crosstalk-ai/crosstalk/internal/extchat"
	"github.com/crosstalk-ai/crosstalk/internal/logging"
	"github.com/crosstalk-ai/crosstalk/internal/project"
	"github.com/crosstalk-ai/crosstalk/internal/provider"
	"github.com/crosstalk-ai/crosstalk/internal/storage"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel string
	workDir  string
)

var rootCmd = &cobra.Command{
	Use:   "crosstalk",
	Short: "Crosstalk - multi-surface AI conversation orchestrator",
	Long: `Crosstalk manages AI conversations across surfaces: streaming API
sessions with tool confirmation, CLI agents under pseudo-terminals,
OS terminal windows, and externally tracked web sessions.

Run 'crosstalk serve' to start the HTTP server, or 'crosstalk sessions'
to inspect stored sessions.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "d", "", "Working directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("crosstalk %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(projectsCmd)
}

// Execute runs the root command.
func Execute() error {
	// Local .env is optional.
	_ = godotenv.Load()
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// buildClient wires the full stack: paths, config, storage, providers,
// project registry, and the session client.
func buildClient(ctx context.Context) (*client.Client, *types.Config, error) {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return nil, nil, err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = logLevel
	}
	logging.Init(logging.Config{Level: logging.ParseLevel(cfg.LogLevel)})

	store := storage.New(paths.StoragePath())
	repo := storage.NewSessions(store)

	providers, err := provider.InitializeProviders(ctx, cfg)
	if err != nil {
		logging.Warn().Err(err).Msg("some providers failed to initialize")
	}

	projects, err := project.LoadRegistry(paths.ProjectsPath())
	if err != nil {
		return nil, nil, err
	}

	return client.New(cfg, repo, providers, projects, extchat.NewOSController()), cfg, nil
}
