// cmd/loadbalancer/main.go
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"clusterlb/internal/admin"
	"clusterlb/internal/clientlisten"
	"clusterlb/internal/config"
	"clusterlb/internal/lifecycle"
	"clusterlb/internal/probe"
	"clusterlb/internal/ratelimit"
	"clusterlb/internal/regchannel"
	"clusterlb/internal/registry"
	"clusterlb/internal/selector"
	"clusterlb/internal/status"
)

var flags struct {
	clientPort    int
	regPort       int
	statusPort    int
	adminPort     int
	configPath    string
	pingInterval  int
	evictTimeout  int
	defaultMode   string
	regRateWindow time.Duration
}

func main() {
	root := &cobra.Command{
		Use:   "loadbalancer",
		Short: "TCP load balancer for the compute cluster",
		RunE:  run,
	}

	static := config.Default()
	root.Flags().IntVar(&flags.clientPort, "client-port", static.ClientPort, "client handshake listener port")
	root.Flags().IntVar(&flags.regPort, "reg-port", static.RegPort, "server registration/heartbeat listener port")
	root.Flags().IntVar(&flags.statusPort, "status-port", static.StatusPort, "status JSON feed listener port")
	root.Flags().IntVar(&flags.adminPort, "admin-port", static.AdminPort, "admin command listener port")
	root.Flags().StringVar(&flags.configPath, "config", "", "optional TOML config file")
	root.Flags().IntVar(&flags.pingInterval, "ping-interval", config.DefaultPingIntervalMs, "RTT probe interval in milliseconds")
	root.Flags().IntVar(&flags.evictTimeout, "evict-timeout", config.DefaultEvictionTimeoutMs, "eviction timeout in milliseconds")
	root.Flags().StringVar(&flags.defaultMode, "default-mode", "static", "default selection mode: static or dynamic")
	root.Flags().DurationVar(&flags.regRateWindow, "reg-rate-window", 50*time.Millisecond, "minimum spacing between accepted connections from one registering server IP")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	static := config.Default()
	static.ClientPort = flags.clientPort
	static.RegPort = flags.regPort
	static.StatusPort = flags.statusPort
	static.AdminPort = flags.adminPort
	static.InitialDefaultMode = flags.defaultMode
	static.InitialPingIntervalMs = flags.pingInterval
	static.InitialEvictionTimeoutMs = flags.evictTimeout

	if flags.configPath != "" {
		merged, err := config.LoadFile(flags.configPath, static)
		if err != nil {
			return fmt.Errorf("loading config file: %w", err)
		}
		static = merged
	}

	clock := clockwork.NewRealClock()
	reg := registry.New(clock, logger)
	cfg := config.New(static)
	sel := selector.New(reg, logger)
	limiter := ratelimit.New(flags.regRateWindow, clock)

	rttProber := probe.NewRTTProber(reg, cfg, clock, logger)
	evictor := probe.NewEvictor(reg, cfg, clock, logger)

	clientLn, err := net.Listen("tcp", fmt.Sprintf(":%d", static.ClientPort))
	if err != nil {
		return fmt.Errorf("binding client port: %w", err)
	}
	regLn, err := net.Listen("tcp", fmt.Sprintf(":%d", static.RegPort))
	if err != nil {
		return fmt.Errorf("binding reg port: %w", err)
	}
	statusLn, err := net.Listen("tcp", fmt.Sprintf(":%d", static.StatusPort))
	if err != nil {
		return fmt.Errorf("binding status port: %w", err)
	}
	adminLn, err := net.Listen("tcp", fmt.Sprintf(":%d", static.AdminPort))
	if err != nil {
		return fmt.Errorf("binding admin port: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sd := lifecycle.New(cancel)
	sd.Track(clientLn)
	sd.Track(regLn)
	sd.Track(statusLn)
	sd.Track(adminLn)

	clientEP := clientlisten.New(sel, cfg, logger)
	regEP := regchannel.New(reg, limiter, static.InitialWeights, logger)
	statusEP := status.New(reg, cfg, clock.Now(), logger)
	interp := admin.New(reg, cfg, func(newMs int) {
		logger.Info().Int("pingIntervalMs", newMs).Msg("admin updated ping interval")
	}, clock, clock.Now())
	adminLimiter := ratelimit.New(flags.regRateWindow, clock)
	adminEP := admin.NewEndpoint(interp, adminLimiter, logger)

	go clientEP.Serve(ctx, clientLn)
	go regEP.Serve(ctx, regLn)
	go statusEP.Serve(ctx, statusLn)
	go adminEP.Serve(ctx, adminLn)
	go rttProber.Run(ctx)
	go evictor.Run(ctx)
	go admin.RunConsole(ctx, interp, os.Stdin, os.Stdout, logger)

	logger.Info().
		Int("clientPort", static.ClientPort).
		Int("regPort", static.RegPort).
		Int("statusPort", static.StatusPort).
		Int("adminPort", static.AdminPort).
		Msg("load balancer started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	sd.Close()
	time.Sleep(lifecycle.AcceptTimeout + 200*time.Millisecond)
	return nil
}
