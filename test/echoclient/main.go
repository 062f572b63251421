package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Clouded-Sabre/mic-tcp/config"
	"github.com/Clouded-Sabre/mic-tcp/ipsim"
	"github.com/Clouded-Sabre/mic-tcp/lib"
	"github.com/Clouded-Sabre/mic-tcp/logging"
)

// Sends numbered messages to the echo server and counts the replies. With a
// non-zero loss_rate the loss tolerance abandons some messages or replies,
// which the summary reports as missing.

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	serverAddr := flag.String("server", "127.0.0.1:8901", "Server address")
	count := flag.Int("count", 20, "Number of messages")
	replyTimeout := flag.Duration("replyTimeout", time.Second, "How long to wait for each echo")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration file error")
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("Logging setup error")
	}

	stack, err := lib.NewStack(&cfg.StackConfig, lib.UDPTransportFactory(&cfg.IP), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Stack error")
	}
	defer stack.Shutdown()

	fd, err := stack.Open(ipsim.Client)
	if err != nil {
		log.Fatal().Err(err).Msg("Open error")
	}
	server, err := lib.ResolveAddress(*serverAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid server address")
	}
	if err := stack.ConnectWithBackoff(context.Background(), fd, server, nil); err != nil {
		log.Fatal().Err(err).Msg("Error connecting")
	}

	echoed := 0
	buf := make([]byte, cfg.MaxPayload)
	start := time.Now()
	for i := 0; i < *count; i++ {
		msg := fmt.Sprintf("echo %d", i)
		if _, err := stack.Send(fd, []byte(msg)); err != nil {
			log.Fatal().Err(err).Msg("Write error")
		}

		ctx, cancel := context.WithTimeout(context.Background(), *replyTimeout)
		n, err := stack.Recv(ctx, fd, buf)
		cancel()
		if err != nil {
			log.Warn().Str("message", msg).Msg("no echo received")
			continue
		}
		if string(buf[:n]) != msg {
			log.Warn().Str("sent", msg).Str("got", string(buf[:n])).Msg("echo mismatch")
			continue
		}
		echoed++
	}

	fmt.Printf("%d/%d messages echoed in %v\n", echoed, *count, time.Since(start))
	if err := stack.Close(fd); err != nil {
		log.Warn().Err(err).Msg("Close error")
	}
}
