package main

import (
	"context"

	"github.com/spf13/cobra"

	corecmd "github.com/abjtutorial/tutorbot/core/cmd"
	"github.com/abjtutorial/tutorbot/internal/app"
	"github.com/abjtutorial/tutorbot/internal/config"
)

const defaultConfigPath = "configs/config.yaml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "tutorbot",
		Short:         "ABJ Tutorial registration and approval bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config (default $CONFIG_PATH or "+defaultConfigPath+")")

	root.AddCommand(newRunCmd(opts), newMigrateCmd(opts), newVersionCmd())
	return root
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot and serve updates until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), opts)
		},
	}
}

func runBot(ctx context.Context, opts *rootOptions) error {
	return corecmd.Run(corecmd.Options{
		ConfigPath:        opts.configPath,
		DefaultConfigPath: defaultConfigPath,
		Context:           ctx,
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return config.Load(path)
		},
		Bootstrap: func(ctx context.Context, cfg corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			return app.New(ctx, cfg.(*config.AppConfig))
		},
	})
}

// loadConfig resolves the path the same way the run command does.
func loadConfig(opts *rootOptions) (*config.AppConfig, error) {
	path, err := corecmd.ResolveConfigPath(corecmd.Options{
		ConfigPath:        opts.configPath,
		DefaultConfigPath: defaultConfigPath,
	})
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}
