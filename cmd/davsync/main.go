package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/openmined/davsync/internal/client/config"
	"github.com/openmined/davsync/internal/client/sync"
	"github.com/openmined/davsync/internal/davsdk"
	"github.com/openmined/davsync/internal/utils"
	"github.com/openmined/davsync/internal/version"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "DAVSYNC"

func newRootCmd() *cobra.Command {
	var logCloser io.Closer

	cmd := &cobra.Command{
		Use:   "davsync [flags] <remote-path>... <local-path>",
		Short: "Mirror one or more WebDAV folders into a local directory",
		Long: `davsync downloads new and changed files from one or more remote folders
and removes local files that no longer exist remotely. Changes are detected
with server version tags, recorded in a lock file next to the mirror.

Credentials are read from NEXTCLOUD_REMOTE, NEXTCLOUD_USER and
NEXTCLOUD_PASSWORD, optionally loaded from a .env file.

A first argument that names a subcommand, such as a remote folder called
"version", must follow "--":

  davsync -- version ./local`,
		Version:       version.Detailed(),
		Args:          cobra.MinimumNArgs(2),
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			logFile, _ := cmd.Flags().GetString("log-file")
			closer, err := setupLogger(cmd.ErrOrStderr(), level, logFile)
			if err != nil {
				return err
			}
			logCloser = closer
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}

			// arguments are fine, errors from here on are not usage errors
			cmd.SilenceUsage = true

			slog.Debug("config",
				"remote", cfg.RemoteURL,
				"user", cfg.User,
				"password", utils.MaskSecret(cfg.Password),
				"roots", cfg.RemotePaths,
				"local", cfg.LocalPath,
				"lockFile", cfg.LockFile,
				"workers", cfg.Workers,
				"maxDeletes", cfg.MaxDeletes,
				"dryRun", cfg.DryRun,
			)

			client, err := davsdk.New(cfg.DavConfig())
			if err != nil {
				return err
			}

			engine, err := sync.NewSyncEngine(cfg, client, afero.NewOsFs())
			if err != nil {
				return err
			}

			report, err := engine.Run(cmd.Context())
			if err != nil {
				return err
			}

			printSummary(cmd.OutOrStdout(), cfg, report)
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().String("lock-file", "", "Manifest path (default <local-path>/"+config.DefaultLockFileName+")")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers, "Concurrent listings and downloads")
	cmd.Flags().BoolP("dry-run", "n", false, "Show what would change without touching the local directory")
	cmd.Flags().Int("max-deletes", 0, "Abort when more local files would be deleted (0 = no limit)")
	cmd.Flags().String("dav-root", davsdk.DefaultDavRoot, "WebDAV root below the server url, {user} is replaced")
	cmd.PersistentFlags().String("env-file", config.DefaultEnvFile, "Load environment variables from this file if it exists")
	cmd.PersistentFlags().String("log-file", "", "Also write logs to this file")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig resolves the configuration from the env file, the environment
// and the command line, in increasing order of precedence.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	// credentials keep the names used by Nextcloud tooling
	v.BindEnv("remote", config.EnvRemote)
	v.BindEnv("user", config.EnvUser)
	v.BindEnv("password", config.EnvPassword)

	v.BindPFlag("lock_file", cmd.Flags().Lookup("lock-file"))
	v.BindPFlag("workers", cmd.Flags().Lookup("workers"))
	v.BindPFlag("dry_run", cmd.Flags().Lookup("dry-run"))
	v.BindPFlag("max_deletes", cmd.Flags().Lookup("max-deletes"))
	v.BindPFlag("dav_root", cmd.Flags().Lookup("dav-root"))

	cfg := &config.Config{
		RemoteURL:   v.GetString("remote"),
		User:        v.GetString("user"),
		Password:    v.GetString("password"),
		DavRoot:     v.GetString("dav_root"),
		RemotePaths: args[:len(args)-1],
		LocalPath:   args[len(args)-1],
		LockFile:    v.GetString("lock_file"),
		Workers:     v.GetInt("workers"),
		MaxDeletes:  v.GetInt("max_deletes"),
		DryRun:      v.GetBool("dry_run"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red.Render("Error:"), err)
		stop()
		os.Exit(1)
	}
}
