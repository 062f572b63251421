package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Clouded-Sabre/mic-tcp/config"
	"github.com/Clouded-Sabre/mic-tcp/internal/metricsserver"
	"github.com/Clouded-Sabre/mic-tcp/ipsim"
	"github.com/Clouded-Sabre/mic-tcp/lib"
	"github.com/Clouded-Sabre/mic-tcp/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 9000, "MIC-TCP port to accept connections on")
	acceptTimeout := flag.Duration("accept-timeout", 0, "stop waiting for a client after this long (0 waits forever)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Configuration file error:", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintln(os.Stderr, "Logging setup error:", err)
		os.Exit(1)
	}
	if *port <= 0 || *port > 65535 {
		log.Fatal().Int("port", *port).Msg("invalid port")
	}

	if err := run(cfg, uint16(*port), *acceptTimeout); err != nil {
		log.Fatal().Err(err).Msg("MIC-TCP server stopped")
	}
}

func run(cfg *config.Config, port uint16, acceptTimeout time.Duration) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	stack, err := lib.NewStack(&cfg.StackConfig, lib.UDPTransportFactory(&cfg.IP), reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	metricsserver.Start(ctx, g, cfg.Metrics.Listen, reg)
	g.Go(func() error {
		return serve(ctx, stack, lib.Address{IP: net.ParseIP(cfg.IP.ListenIP), Port: port}, cfg.MaxPayload, acceptTimeout)
	})
	return g.Wait()
}

func serve(ctx context.Context, stack *lib.Stack, addr lib.Address, maxPayload int, acceptTimeout time.Duration) error {
	fd, err := stack.Open(ipsim.Server)
	if err != nil {
		return err
	}
	if err := stack.Bind(fd, addr); err != nil {
		return err
	}
	fmt.Println("MIC-TCP server listening on", addr)

	acceptCtx := ctx
	if acceptTimeout > 0 {
		var cancel context.CancelFunc
		acceptCtx, cancel = context.WithTimeout(ctx, acceptTimeout)
		defer cancel()
	}
	peer, err := stack.Accept(acceptCtx, fd)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("accept: %w", err)
	}
	fmt.Println("Client connected from", peer)

	buffer := make([]byte, maxPayload)
	for {
		n, err := stack.Recv(ctx, fd, buffer)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\nReceived interrupt. Shutting down...")
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		fmt.Printf("Got message from %s: %s\n", peer, buffer[:n])
	}
}
