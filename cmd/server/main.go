package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimbusmq/broker/internal/auth"
	"github.com/nimbusmq/broker/internal/config"
	"github.com/nimbusmq/broker/internal/server"
)

// cliFlags mirrors the wally-io options_parser's flag groups
// (server/connection/publication/authentication/logging) one for one,
// rendered with the standard flag package instead of
// boost::program_options. Every flag the user actually passes
// overrides whatever the config file set; flags the user doesn't pass
// keep their flag defaults and never touch the loaded config.
type cliFlags struct {
	help bool

	serverAddress string
	serverPort    int

	connTimeoutMS int
	connRbufSize  int
	connWbufSize  int

	pubAckTimeoutMS int
	pubMaxRetries   int

	authServiceFactory string

	logFile         string
	logFileLevel    string
	logConsole      bool
	logConsoleLevel string
	logSync         bool
	logDisable      bool
}

func registerFlags() (*cliFlags, *string) {
	f := &cliFlags{}
	configPath := flag.String("conf-file", "config/config.yaml", "Read configuration from <file>")

	flag.BoolVar(&f.help, "help", false, "Print help message and exit")
	flag.BoolVar(&f.help, "h", false, "Print help message and exit")

	flag.StringVar(&f.serverAddress, "server-address", "", "Bind server to <IP>")
	flag.IntVar(&f.serverPort, "server-port", 0, "Bind server to <port>")

	flag.IntVar(&f.connTimeoutMS, "conn-timeout", 0, "Close new client connection if not receiving a CONNECT within <ms>")
	flag.IntVar(&f.connRbufSize, "conn-rbuf-size", 0, "Use initial read buffer of size <bytes>")
	flag.IntVar(&f.connWbufSize, "conn-wbuf-size", 0, "Use initial write buffer of size <bytes>")

	flag.IntVar(&f.pubAckTimeoutMS, "pub-ack-timeout", 0, "Resend PUBLISH after <ms> without receiving an ack")
	flag.IntVar(&f.pubMaxRetries, "pub-max-retries", -1, "Retry sending PUBLISH at most <n> times")

	flag.StringVar(&f.authServiceFactory, "auth-service-factory", "", "Use authentication service factory <name> (allow_all|file)")

	flag.StringVar(&f.logFile, "log-file", "", "Direct log output to <file>")
	flag.StringVar(&f.logFileLevel, "log-file-level", "", "Restrict file log output to <level> or above")
	flag.BoolVar(&f.logConsole, "log-console", false, "Log to console")
	flag.StringVar(&f.logConsoleLevel, "log-console-level", "", "Restrict console log output to <level> or above")
	flag.BoolVar(&f.logSync, "log-sync", false, "Use synchronous logging (accepted for CLI compatibility; this logger is always synchronous)")
	flag.BoolVar(&f.logDisable, "log-disable", false, "Do not log, neither to file nor to console")

	return f, configPath
}

// applyOverrides overlays onto cfg only the flags the caller actually
// passed on the command line, matching options_parser's "command line
// wins over config file" precedence.
func applyOverrides(cfg *config.Config, f *cliFlags) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "server-address":
			cfg.Server.Host = f.serverAddress
		case "server-port":
			cfg.Server.Port = f.serverPort
		case "conn-timeout":
			cfg.Server.ConnectTimeout = time.Duration(f.connTimeoutMS) * time.Millisecond
		case "conn-rbuf-size":
			cfg.Server.ReadBufferSize = f.connRbufSize
		case "conn-wbuf-size":
			cfg.Server.WriteBufferSize = f.connWbufSize
		case "pub-ack-timeout":
			cfg.QoS.RetryInterval = time.Duration(f.pubAckTimeoutMS) * time.Millisecond
		case "pub-max-retries":
			cfg.QoS.MaxRetries = f.pubMaxRetries
		case "auth-service-factory":
			cfg.Auth.ServiceFactory = f.authServiceFactory
		case "log-disable":
			cfg.Logging.Output = "discard"
		case "log-file":
			cfg.Logging.Output = f.logFile
		case "log-console":
			cfg.Logging.Output = "stdout"
		case "log-file-level":
			cfg.Logging.Level = f.logFileLevel
		case "log-console-level":
			cfg.Logging.Level = f.logConsoleLevel
		}
		// log-sync is accepted and parsed but otherwise inert: the
		// original distinguishes synchronous from asynchronous
		// logging sinks, and the standard log package has no
		// asynchronous mode to opt out of.
	})
}

// applyLogOutput points the standard logger at cfg.Logging.Output,
// resolving the stdout/stderr/discard sentinels before treating the
// value as a file path.
func applyLogOutput(cfg *config.Config) {
	switch cfg.Logging.Output {
	case "stdout":
		log.SetOutput(os.Stdout)
	case "stderr":
		log.SetOutput(os.Stderr)
	case "discard":
		log.SetOutput(io.Discard)
	default:
		out, err := os.OpenFile(cfg.Logging.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Printf("Could not open log file %s, logging to stdout instead: %v", cfg.Logging.Output, err)
			return
		}
		log.SetOutput(out)
	}
}

func main() {
	f, configPath := registerFlags()
	flag.Parse()

	if f.help {
		flag.Usage()
		os.Exit(0)
	}

	log.Println("Starting MQTT Server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyOverrides(cfg, f)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration after applying command-line flags: %v", err)
	}
	applyLogOutput(cfg)

	log.Printf("Configuration loaded from %s", *configPath)
	log.Printf("Server will bind to %s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Auth service factory: %s", cfg.Auth.ServiceFactory)

	authenticate, err := buildAuthenticator(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize authentication: %v", err)
	}

	srv := server.New(cfg, authenticate)

	// Start Prometheus metrics server if enabled
	if cfg.Metrics.Enabled {
		go func() {
			metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			http.Handle(cfg.Metrics.Path, promhttp.Handler())
			log.Printf("Metrics server starting on %s%s", metricsAddr, cfg.Metrics.Path)
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Start MQTT server in a goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	log.Println("MQTT Server started successfully")
	log.Printf("  MQTT listening on %s:%d", cfg.Server.Host, cfg.Server.Port)
	if cfg.Metrics.Enabled {
		log.Printf("  Metrics available at http://localhost:%d%s", cfg.Metrics.Port, cfg.Metrics.Path)
	}
	log.Printf("  Log level: %s", cfg.Logging.Level)
	log.Println("Press Ctrl+C to stop")

	// Wait for interrupt signal to gracefully shut down the server.
	// SIGQUIT is accepted alongside the usual SIGINT/SIGTERM so an
	// operator can request shutdown the same way across the common
	// Unix signal conventions.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit

	log.Println("Shutting down server...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
		os.Exit(1)
	}
	fmt.Println("Server stopped gracefully")
}

// buildAuthenticator selects the authentication backend named by
// cfg.Auth.ServiceFactory.
func buildAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	switch cfg.Auth.ServiceFactory {
	case "file":
		backend, err := auth.LoadFileBackend(cfg.Auth.UsernamePasswordFile)
		if err != nil {
			return nil, err
		}
		return backend.Authenticate, nil
	default:
		return auth.AllowAll, nil
	}
}
