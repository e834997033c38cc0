// Package commands implements the flowcollector CLI surface: a cobra root
// command plus a single "serve" subcommand, with viper layering environment
// variables and a --config file over flag defaults, grounded on
// marmos91-dittofs's cmd/dfs command tree (its root/start/viper-setup
// idiom).
package commands

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "flowcollector",
	Short: "IPFIX/NetFlow v9 flow collector feeding a ClickHouse-compatible store",
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to the pipeline YAML config file (columns, connection, tuning)")
	rootCmd.PersistentFlags().String("tcp-listen", "", "address to accept IPFIX-over-TCP connections on, e.g. :4739")
	rootCmd.PersistentFlags().String("udp-listen", "", "address to accept IPFIX/NFv9-over-UDP datagrams on, e.g. :4739")
	rootCmd.PersistentFlags().String("tls-listen", "", "address to accept IPFIX-over-TLS connections on")
	rootCmd.PersistentFlags().String("tls-cert", "", "TLS certificate file, required with --tls-listen")
	rootCmd.PersistentFlags().String("tls-key", "", "TLS private key file, required with --tls-listen")
	rootCmd.PersistentFlags().String("metrics-listen", ":9090", "address to expose Prometheus metrics on")
	rootCmd.PersistentFlags().String("log-level", "info", "log verbosity: info, or debug for verbose messages")

	_ = v.BindPFlags(rootCmd.PersistentFlags())
	v.SetEnvPrefix("FLOWCOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(serveCmd)
}

// Execute runs the CLI, returning the first error any command reports.
func Execute() error {
	return rootCmd.Execute()
}
