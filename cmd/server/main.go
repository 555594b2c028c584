package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parleychat/parley/pkg/logging"
	"github.com/parleychat/parley/pkg/server"
)

func main() {
	var (
		configPath  = flag.String("config", "~/.parley/config.toml", "path to config file")
		listenHost  = flag.String("l", "", "listen address (overrides config)")
		port        = flag.Int("p", 0, "listen port for both transports (overrides config)")
		timeoutMs   = flag.Int("d", 0, "UDP confirmation timeout in milliseconds (overrides config)")
		retries     = flag.Int("r", -1, "UDP retransmission count (overrides config)")
		logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
		metricsPort = flag.Int("metrics-port", -1, "Prometheus metrics port, 0 disables (overrides config)")
	)
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags win over both the config file and environment overrides.
	if *listenHost != "" {
		cfg.Host = *listenHost
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *timeoutMs != 0 {
		cfg.ConfirmTimeout = time.Duration(*timeoutMs) * time.Millisecond
	}
	if *retries >= 0 {
		cfg.ConfirmRetries = *retries
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *metricsPort >= 0 {
		cfg.MetricsPort = *metricsPort
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)

	var auth server.Authenticator = server.AllowAll{}
	if cfg.UsersFile != "" {
		creds, err := server.LoadCredentialFile(cfg.UsersFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.UsersFile).Msg("failed to load credential file")
		}
		auth = creds
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(cfg, auth, log)
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
