package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

// cmdErrWriter is where diagnostic Logf output goes; a package
// variable rather than a hardcoded os.Stderr so tests can
// swap it.
var cmdErrWriter io.Writer = os.Stderr

var rootCmd = &cobra.Command{
	Use:   "docdbctl",
	Short: "inspect and poke at a docdb store from the command line",
	Long: `docdbctl is a small operational tool for a docdb store: list its
backend maps, read and write raw keys below the Collection/Codec
layer, dump Prometheus metrics, and check on its on-disk size --
without writing a line of Go.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindCommandFlags(cmd)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("db", "docdb.db", "path to the Bolt database file")
	flags.Bool("mem", false, "use a transient in-memory backend instead of --db")
	flags.Bool("compressed", false, "flate-compress autocommit buffer segments")
	flags.Int("read-cache-mb", 0, "initial Bolt mmap size in MB (0 = Bolt default)")
	flags.Int("autocommit-buffer-kb", 0, "buffer raw-map writes up to this many KB before flushing (0 = commit immediately)")
	flags.Int("autocommit-delay-ms", 0, "flush the autocommit buffer after this many ms even if unfull (default 100ms once buffering is enabled)")
	flags.String("encryption-key", "", "hex-encoded AES key (16/24/32 bytes) for autocommit buffer segments")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(mapsCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(delCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(delmapCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(metricsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print docdbctl's version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("docdbctl v" + version)
	},
}

// Execute runs the root command. main.main's only job is to call this
// and translate a non-nil error into a nonzero exit status.
func Execute() error {
	return rootCmd.Execute()
}
