// securepeerd is a standalone secure-peer daemon: it loads a JSON
// configuration, opens its key store, binds a transport, and runs the
// bus.Runtime until interrupted.
//
// Usage:
//
//	securepeerd -config securepeerd.json
//
// Options:
//
//	-config    Path to the JSON configuration file (required)
//	-loglevel  One of trace, debug, info, warn, error (default: info)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alljoyn-go/securepeer/internal/bus"
	"github.com/alljoyn-go/securepeer/internal/config"
	"github.com/alljoyn-go/securepeer/internal/logging"
	"github.com/alljoyn-go/securepeer/internal/transport"
	"github.com/cenkalti/backoff"
	pionlogging "github.com/pion/logging"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON configuration file")
	logLevel := flag.String("loglevel", "info", "trace, debug, info, warn, or error")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("securepeerd: -config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("securepeerd: loading config: %v", err)
	}

	loggerFactory := logging.NewFactory(parseLogLevel(*logLevel), nil)
	appLog := logging.NewLogger(loggerFactory, "app")

	tr, err := bindTransport(cfg.Port)
	if err != nil {
		log.Fatalf("securepeerd: binding transport: %v", err)
	}

	runtime, err := bus.New(bus.Config{
		Config:        cfg,
		LoggerFactory: loggerFactory,
		Transport:     tr,
	})
	if err != nil {
		log.Fatalf("securepeerd: starting runtime: %v", err)
	}
	runtime.Start()
	appLog.Infof("securepeerd listening as %q on port %d", cfg.BusName, cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	appLog.Info("shutting down")
	if err := runtime.Close(); err != nil {
		log.Fatalf("securepeerd: shutdown: %v", err)
	}
}

// bindTransport opens the UDP/TCP listener for port, retrying with
// exponential backoff for up to a minute: a restarting daemon frequently
// races its own predecessor's socket teardown (TIME_WAIT, a lingering
// SO_REUSEADDR window), and failing fast on the first bind attempt would
// turn a transient restart race into a hard outage.
func bindTransport(port int) (transport.Transport, error) {
	var tr transport.Transport
	op := func() error {
		var bindErr error
		tr, bindErr = transport.New(transport.Config{
			Port:       port,
			UDPEnabled: true,
			TCPEnabled: true,
		})
		return bindErr
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("bind port %d: %w", port, err)
	}
	return tr, nil
}

func parseLogLevel(s string) pionlogging.LogLevel {
	switch strings.ToLower(s) {
	case "trace":
		return pionlogging.LogLevelTrace
	case "debug":
		return pionlogging.LogLevelDebug
	case "warn", "warning":
		return pionlogging.LogLevelWarn
	case "error":
		return pionlogging.LogLevelError
	default:
		return pionlogging.LogLevelInfo
	}
}
