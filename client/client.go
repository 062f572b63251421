package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Clouded-Sabre/mic-tcp/config"
	"github.com/Clouded-Sabre/mic-tcp/internal/metricsserver"
	"github.com/Clouded-Sabre/mic-tcp/ipsim"
	"github.com/Clouded-Sabre/mic-tcp/lib"
	"github.com/Clouded-Sabre/mic-tcp/logging"
)

// Usage: client -serverIP <ip> -serverPort <port> [-count n] < messages.txt

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	serverIP := flag.String("serverIP", "", "server IP address (defaults to ip.listen_ip)")
	serverPort := flag.Int("serverPort", 9000, "server MIC-TCP port")
	count := flag.Int("count", 0, "send this many generated messages instead of reading stdin")
	interval := flag.Duration("interval", 0, "pause between generated messages")
	reconnectRetries := flag.Int("reconnectRetries", 5, "connect attempts after the first one fails (-1 for infinite)")
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

	ip := *serverIP
	if ip == "" {
		ip = cfg.IP.ListenIP
	}
	server := lib.Address{IP: net.ParseIP(ip), Port: uint16(*serverPort)}
	if server.IP == nil || *serverPort <= 0 || *serverPort > 65535 {
		log.Fatal().Str("ip", ip).Int("port", *serverPort).Msg("invalid server address")
	}

	reconnectCfg := lib.DefaultReconnectConfig()
	reconnectCfg.MaxRetries = *reconnectRetries

	if err := run(cfg, server, reconnectCfg, *count, *interval); err != nil {
		log.Fatal().Err(err).Msg("MIC-TCP client stopped")
	}
}

func run(cfg *config.Config, server lib.Address, reconnectCfg *lib.ReconnectConfig, count int, interval time.Duration) error {
	reg := prometheus.NewRegistry()
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

	messages := make(chan string)
	if count > 0 {
		go generate(ctx, messages, count, interval)
	} else {
		go readLines(ctx, messages)
	}

	metricsserver.Start(ctx, g, cfg.Metrics.Listen, reg)
	g.Go(func() error {
		defer stop()
		return send(ctx, stack, server, reconnectCfg, messages)
	})
	return g.Wait()
}

func send(ctx context.Context, stack *lib.Stack, server lib.Address, reconnectCfg *lib.ReconnectConfig, messages <-chan string) error {
	fd, err := stack.Open(ipsim.Client)
	if err != nil {
		return err
	}
	if err := stack.ConnectWithBackoff(ctx, fd, server, reconnectCfg); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect to %s: %w", server, err)
	}
	fmt.Println("Connected to", server)

	sent := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				stats := stack.Stats()
				fmt.Printf("Sent %d messages, %d losses in the last %d sends\n", sent, stats.WindowLosses, stats.WindowSize)
				return stack.Close(fd)
			}
			n, err := stack.Send(fd, []byte(msg))
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			sent++
			fmt.Printf("Sent %d bytes\n", n)
		}
	}
}

func generate(ctx context.Context, out chan<- string, count int, interval time.Duration) {
	defer close(out)
	for i := 0; i < count; i++ {
		select {
		case out <- fmt.Sprintf("message %d", i):
		case <-ctx.Done():
			return
		}
		if interval > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			}
		}
	}
}

// readLines feeds stdin to out. The scanner cannot be interrupted, so the
// goroutine is left behind when ctx ends first.
func readLines(ctx context.Context, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("reading stdin")
	}
}
