package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "stockbroker",
	Short:         "Order-entry broker serving gRPC",
	Long:          `Runs the order-entry broker. Subcommands talk to a running broker.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml)")

	rootCmd.Flags().String("grpc-addr", "", "gRPC listen address")
	rootCmd.Flags().String("metrics-addr", "", "prometheus listen address")
	rootCmd.Flags().String("log-level", "", "debug, info, warn or error")
	rootCmd.Flags().String("outbox-dir", "", "pebble directory for the event outbox (empty keeps it in memory)")
	rootCmd.Flags().String("events-driver", "", "sarama, kafka-go or none")

	_ = v.BindPFlag("grpc.addr", rootCmd.Flags().Lookup("grpc-addr"))
	_ = v.BindPFlag("metrics.addr", rootCmd.Flags().Lookup("metrics-addr"))
	_ = v.BindPFlag("log.level", rootCmd.Flags().Lookup("log-level"))
	_ = v.BindPFlag("outbox.dir", rootCmd.Flags().Lookup("outbox-dir"))
	_ = v.BindPFlag("events.driver", rootCmd.Flags().Lookup("events-driver"))

	rootCmd.AddCommand(placeCmd, cancelCmd, dashboardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
