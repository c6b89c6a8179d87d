package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cordmetrics/pkg/config"
	"cordmetrics/pkg/segmentation"
)

// run executes the pipeline once the configuration is resolved
var run = runPipeline

// rootOptions holds the flags of the root command
type rootOptions struct {
	configPath string
	recompute  bool
	workers    int
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "cordmetrics <subject>/<session>",
		Short: "Slicewise SNR and CNR of spinal cord white and gray matter",
		Long: `Processes every acquisition/reconstruction combination of one subject and session:
segmentations are reused when available and computed otherwise, then per-slice
white and gray matter SNR and CNR tables, summary tables and QC images are written.

Study directories come from the configuration file and may be overridden with
PATH_DATA, PATH_DATA_PROCESSED, PATH_RESULTS, PATH_LOG and PATH_QC.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, session, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, subject, session)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "cordmetrics.yaml", "Path to the YAML configuration")
	rootCmd.Flags().BoolVar(&opts.recompute, "recompute", false, "Recompute automatic segmentations even if they exist")
	rootCmd.Flags().IntVar(&opts.workers, "workers", 0, "Combinations processed concurrently (overrides the configuration)")
	rootCmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: trace, debug, info, warn or error")

	rootCmd.AddCommand(newConfigCmd(), newProvenanceCmd(opts))
	return rootCmd
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", args[0])
			return nil
		},
	}
	configCmd.AddCommand(initCmd)
	return configCmd
}

func newProvenanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provenance",
		Short: "List indexed segmentation artifacts (badger store only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cfg.Segmentation.Store != "badger" {
				return fmt.Errorf("provenance needs the badger store, configured store is %q", cfg.Segmentation.Store)
			}

			inner := segmentation.NewFSStore(cfg.Paths.Data, cfg.Paths.Processed, cfg.Contrast)
			store, err := segmentation.OpenBadgerStore(cfg.Segmentation.BadgerDir, inner, "", zerolog.Nop())
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Records()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tPROVENANCE\tPRODUCED\tRUN\tPATH")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Key, r.Provenance, r.ProducedAt.Format("2006-01-02 15:04:05"), r.RunID, r.Path)
			}
			return w.Flush()
		},
	}
}

// parseTarget splits <subject>/<session>
func parseTarget(arg string) (string, string, error) {
	subject, session, ok := strings.Cut(strings.Trim(arg, "/"), "/")
	if !ok || subject == "" || session == "" || strings.Contains(session, "/") {
		return "", "", fmt.Errorf("expected <subject>/<session>, got %q", arg)
	}
	return subject, session, nil
}

// loadConfig reads the configuration and applies environment and flag
// overrides
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)

	if cmd.Flags().Changed("recompute") {
		cfg.Segmentation.Recompute = opts.recompute
	}
	if opts.workers > 0 {
		cfg.Processing.NumWorkers = opts.workers
	}
	if opts.logLevel != "" {
		cfg.Output.LogLevel = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
