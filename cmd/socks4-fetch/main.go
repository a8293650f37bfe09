package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"socks4-tunnel/internal/application"
	"socks4-tunnel/internal/config"
	"socks4-tunnel/internal/secure"
	"socks4-tunnel/internal/strategy"
	"socks4-tunnel/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	defaults := config.NewConfig()
	flags := *defaults

	configPath := pflag.String("config", "", "YAML configuration file. Flags given on the command line override it.")
	pflag.StringVar(&flags.Target, "target", defaults.Target, "Target URL to GET (http or https)")
	pflag.IntVar(&flags.Requests, "requests", defaults.Requests, "Number of requests, spread round-robin over the proxies")
	pflag.StringSliceVar(&flags.Proxies, "proxy", defaults.Proxies, "SOCKS4 proxy URL expected to work: socks://host:port | socks4a://host:port (repeatable)")
	pflag.StringSliceVar(&flags.FailProxies, "fail-proxy", defaults.FailProxies, "SOCKS4 proxy URL expected to fail (repeatable)")
	pflag.StringVar(&flags.UserID, "user-id", defaults.UserID, "User ID sent in the SOCKS4 CONNECT request")
	pflag.DurationVar(&flags.SelectInterval, "select-interval", defaults.SelectInterval, "Event loop wake-up interval for timeout checks")
	pflag.DurationVar(&flags.SocketTimeout, "socket-timeout", defaults.SocketTimeout, "Idle timeout for established connections, 0 disables")
	pflag.DurationVar(&flags.ConnectTimeout, "connect-timeout", defaults.ConnectTimeout, "Timeout for proxy name resolution and TCP connect")
	pflag.DurationVar(&flags.HandshakeTimeout, "tls-handshake-timeout", defaults.HandshakeTimeout, "Timeout for the TLS handshake with https targets")
	pflag.DurationVar(&flags.WriteTimeout, "tls-write-timeout", defaults.WriteTimeout, "Longest wait for socket buffer space when writing to https targets")
	pflag.StringVar(&flags.Nameserver, "nameserver", defaults.Nameserver, "DNS server for proxy host names (ip or ip:port). Empty uses --resolv-conf.")
	pflag.StringVar(&flags.ResolvConf, "resolv-conf", defaults.ResolvConf, "resolv.conf to take the nameserver from")
	pflag.StringVar(&flags.CAFile, "ca-file", defaults.CAFile, "PEM bundle of CAs trusted for https targets. Empty uses the system pool.")
	pflag.BoolVar(&flags.Insecure, "insecure", defaults.Insecure, "Skip certificate verification for https targets")
	pflag.StringVar(&flags.LogLevel, "log-level", defaults.LogLevel, "Log level: debug | info | warn | error")
	pflag.StringVar(&flags.LogFormat, "log-format", defaults.LogFormat, "Log format: text | json")
	pflag.StringVar(&flags.MetricsListen, "metrics-listen", defaults.MetricsListen, "Address exposing /metrics (e.g. 127.0.0.1:9100). Empty disables.")

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	cfg := &flags
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfigFile(*configPath)
		if err != nil {
			return fmt.Errorf("load %s: %w", *configPath, err)
		}
		pflag.Visit(func(f *pflag.Flag) { overlay(cfg, &flags, f.Name) })
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	tlsConfig, err := secure.LoadConfig(cfg.CAFile, cfg.Insecure)
	if err != nil {
		return err
	}
	upgrader := secure.NewUpgrader(tlsConfig, cfg.HandshakeTimeout, log).WithWriteTimeout(cfg.WriteTimeout)

	client, err := application.NewClient(cfg.Reactor(), strategy.DefaultRegistry(cfg.UserID, upgrader, log), log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(ctx) })

	if cfg.MetricsListen != "" {
		if err := startMetricsServer(ctx, g, cfg.MetricsListen); err != nil {
			return err
		}
		log.Info("metrics listening", "addr", cfg.MetricsListen)
	}

	var report error
	g.Go(func() error {
		defer cancel()
		report = runRequests(ctx, client, cfg, os.Stdout, os.Stderr)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutting down")
	return report
}

// overlay copies the field behind one command-line flag from src to dst.
func overlay(dst, src *config.Config, name string) {
	switch name {
	case "target":
		dst.Target = src.Target
	case "requests":
		dst.Requests = src.Requests
	case "proxy":
		dst.Proxies = src.Proxies
	case "fail-proxy":
		dst.FailProxies = src.FailProxies
	case "user-id":
		dst.UserID = src.UserID
	case "select-interval":
		dst.SelectInterval = src.SelectInterval
	case "socket-timeout":
		dst.SocketTimeout = src.SocketTimeout
	case "connect-timeout":
		dst.ConnectTimeout = src.ConnectTimeout
	case "tls-handshake-timeout":
		dst.HandshakeTimeout = src.HandshakeTimeout
	case "tls-write-timeout":
		dst.WriteTimeout = src.WriteTimeout
	case "nameserver":
		dst.Nameserver = src.Nameserver
	case "resolv-conf":
		dst.ResolvConf = src.ResolvConf
	case "ca-file":
		dst.CAFile = src.CAFile
	case "insecure":
		dst.Insecure = src.Insecure
	case "log-level":
		dst.LogLevel = src.LogLevel
	case "log-format":
		dst.LogFormat = src.LogFormat
	case "metrics-listen":
		dst.MetricsListen = src.MetricsListen
	}
}

var errUnexpected = errors.New("requests with unexpected outcome")
