// Command zhaosheng runs the admissions-advisory storage API.
//
//	zhaosheng serve     start the HTTP server
//	zhaosheng migrate   create or update the SQL schema and exit
//	zhaosheng version   print build information
//
// Configuration comes from the environment; a .env file in the working
// directory is loaded first when present.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/AppIeBanana/ZhaoSheng/internal/config"
	"github.com/AppIeBanana/ZhaoSheng/internal/sysutil"
)

// Set by the release build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Config
	root := &cobra.Command{
		Use:           "zhaosheng",
		Short:         "Applicant profile and chat history storage API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load .env: %w", err)
			}
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			sysutil.SetupLogging(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
			return nil
		},
	}
	root.AddCommand(
		newServeCmd(&cfg),
		newMigrateCmd(&cfg),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// Skip config loading; version must work without an environment.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "zhaosheng %s (%s)\n", version, commit)
		},
	}
}

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the durable schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := openDurable(cmd.Context(), cfg.Durable)
			if err != nil {
				return err
			}
			defer d.close()
			log.Info().Str("driver", cfg.Durable.Driver).Msg("schema up to date")
			return nil
		},
	}
}
