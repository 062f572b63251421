package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/Clouded-Sabre/mic-tcp/config"
	"github.com/Clouded-Sabre/mic-tcp/ipsim"
	"github.com/Clouded-Sabre/mic-tcp/lib"
	"github.com/Clouded-Sabre/mic-tcp/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 8901, "Service port")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fd, err := stack.Open(ipsim.Server)
	if err != nil {
		log.Fatal().Err(err).Msg("Open error")
	}
	addr := lib.Address{IP: net.ParseIP(cfg.IP.ListenIP), Port: uint16(*port)}
	if err := stack.Bind(fd, addr); err != nil {
		log.Fatal().Err(err).Msg("Bind error")
	}
	log.Info().Str("addr", addr.String()).Msg("Echo server listening")

	// The sequence bits belong to the process, so one client is served.
	peer, err := stack.Accept(ctx, fd)
	if err != nil {
		log.Error().Err(err).Msg("Accept error")
		return
	}
	log.Info().Str("peer", peer.String()).Msg("New connection")

	buf := make([]byte, cfg.MaxPayload)
	for {
		n, err := stack.Recv(ctx, fd, buf)
		if err != nil {
			log.Info().Err(err).Msg("Echo server stopping")
			return
		}
		log.Info().Str("message", string(buf[:n])).Msg("Echo server got")
		if _, err := stack.Send(fd, buf[:n]); err != nil {
			log.Error().Err(err).Msg("Write error")
			return
		}
	}
}
