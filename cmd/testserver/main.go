// cmd/testserver/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"clusterlb/internal/testserver"
)

var flags struct {
	id            string
	port          int
	regAddr       string
	heartbeatMs   int
	reportMs      int
	simClientName string
	simClientIP   string
}

func main() {
	root := &cobra.Command{
		Use:   "testserver",
		Short: "Synthetic compute node that registers with a load balancer",
		RunE:  run,
	}

	root.Flags().StringVar(&flags.id, "id", "node-1", "server identity tag sent with !join")
	root.Flags().IntVar(&flags.port, "port", 20000, "port this node listens on for ping/pong probes")
	root.Flags().StringVar(&flags.regAddr, "reg-addr", "127.0.0.1:11115", "load balancer REG_PORT address")
	root.Flags().IntVar(&flags.heartbeatMs, "heartbeat-ms", 5000, "!join re-announce interval")
	root.Flags().IntVar(&flags.reportMs, "report-ms", 2000, "!report interval")
	root.Flags().StringVar(&flags.simClientName, "sim-client-name", "", "optional synthetic live client name to report")
	root.Flags().StringVar(&flags.simClientIP, "sim-client-ip", "127.0.0.1", "IP to report for the synthetic live client")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	srv := testserver.New(testserver.Config{
		ID:                  flags.id,
		Port:                flags.port,
		RegAddr:             flags.regAddr,
		HeartbeatIntervalMs: flags.heartbeatMs,
		ReportIntervalMs:    flags.reportMs,
	}, logger)

	if flags.simClientName != "" {
		srv.SetLiveClients([]testserver.LiveClient{{Name: flags.simClientName, IP: flags.simClientIP}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	logger.Info().Int("port", flags.port).Str("regAddr", flags.regAddr).Msg("test server starting")
	return srv.Run(ctx)
}
