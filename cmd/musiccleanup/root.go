package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tphakala/musiccleanup/internal/app"
	"github.com/tphakala/musiccleanup/internal/config"
	"github.com/tphakala/musiccleanup/internal/logging"
)

// rootCommand builds the musiccleanup CLI. Settings are loaded once Cobra
// has parsed the --config flag, following the teacher's pattern of wiring a
// single resolved Settings value through every subcommand.
func rootCommand() *cobra.Command {
	var configPath string
	var settings *config.Settings

	rootCmd := &cobra.Command{
		Use:   "musiccleanup",
		Short: "Deduplicate, grade, and reorganize a music library",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		s, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := logging.Init(logging.DefaultOptions(s.WorkspaceDir)); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		settings = s
		return nil
	}

	rootCmd.AddCommand(runCommand(func() *config.Settings { return settings }))

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}

	return rootCmd
}

// runCommand analyzes and reorganizes the configured source roots. settingsFn
// is resolved lazily because Settings is only available after PersistentPreRunE.
func runCommand(settingsFn func() *config.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pass of discovery, analysis, and reorganization",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
			go func() {
				sig := <-sigChan
				fmt.Print("\n")
				fmt.Printf("received signal %v, initiating graceful shutdown...\n", sig)
				cancel()
			}()
			defer signal.Stop(sigChan)

			sess, err := app.New(settingsFn())
			if err != nil {
				return fmt.Errorf("initialize session: %w", err)
			}
			defer func() {
				if cerr := sess.Close(); cerr != nil {
					fmt.Printf("error closing session: %v\n", cerr)
				}
			}()

			summary, err := sess.Run(ctx)
			if err != nil {
				if err == context.Canceled {
					return nil
				}
				return err
			}

			fmt.Printf("discovered %d, analyzed %d, failed %d, duplicate groups %d, quarantined %d\n",
				summary.FilesDiscovered, summary.FilesAnalyzed, summary.FilesFailed,
				summary.DuplicateGroups, summary.QuarantinedFiles)
			return nil
		},
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}
