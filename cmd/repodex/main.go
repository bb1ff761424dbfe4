package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/repodex/internal/config"
	"github.com/dshills/repodex/internal/storage"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	dbPath     string
	logLevel   string
	logFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "repodex",
		Short: "repodex: git checkout sync and Terraform/PowerShell search",
		Long: `repodex discovers the git checkouts under your source roots, keeps them
up to date with fast-forward pulls, and maintains a trigram index over their
Terraform and PowerShell files.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "path to repodex config file")
	pf.StringVar(&opts.dbPath, "db", "", "database path (overrides config and "+config.EnvDBPath+")")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newSyncCmd(opts))
	cmd.AddCommand(newReposCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newMaintCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "repodex %s (commit: %s, built: %s, sqlite: %s/%s)\n",
				Version, Commit, Date, storage.BuildMode, storage.DriverName)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
