// Command phishbait is a single-process, event-driven HTTP/1.x reverse
// proxy that rewrites requests carrying a blacklisted Referer header into
// a synthetic "phishing notice" request before forwarding them to the
// backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"phishbait/internal/blacklist"
	"phishbait/internal/metrics"
	"phishbait/internal/proxy"
	"phishbait/internal/reactor"
	"phishbait/internal/resolver"
)

const (
	defaultListenPort   = 3080
	defaultQueueBacklog = "128"

	exitUsage  = 1
	exitConfig = 2
)

func usage(w *os.File, flags *pflag.FlagSet) {
	fmt.Fprintf(w, "usage: phishbait BACKEND_HOST BACKEND_PORT [-p LISTEN_PORT] [-q QUEUE_BACKLOG]\n\n")
	flags.SetOutput(w)
	flags.PrintDefaults()
}

func main() {
	flags := pflag.NewFlagSet("phishbait", pflag.ContinueOnError)
	flags.Usage = func() {}
	listenPort := flags.IntP("port", "p", defaultListenPort, "port to listen on")
	backlogStr := flags.StringP("queue-backlog", "q", defaultQueueBacklog, "listen queue backlog")
	var help bool
	flags.BoolVarP(&help, "help", "h", false, "show this help text")
	flags.BoolVarP(&help, "help-alt", "?", false, "show this help text")
	metricsAddr := flags.String("metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	logLevel := flags.String("log-level", "info", "log level: debug, info, warn, error")

	if err := flags.Parse(os.Args[1:]); err != nil {
		usage(os.Stderr, flags)
		os.Exit(exitUsage)
	}
	if help {
		usage(os.Stdout, flags)
		os.Exit(0)
	}

	args := flags.Args()
	if len(args) < 2 {
		usage(os.Stderr, flags)
		os.Exit(exitUsage)
	}
	backendHost, backendPortStr := args[0], args[1]

	backlog, convErr := resolver.ParsePort(*backlogStr)
	if convErr != nil || backlog <= 0 {
		fmt.Fprintln(os.Stderr, "phishbait: illegal queue backlog value.")
		os.Exit(exitConfig)
	}

	backendPort, err := resolver.ParsePort(backendPortStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "phishbait: illegal backend port value.")
		os.Exit(exitConfig)
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	}
	log := logger.WithField("component", "phishbait")

	if err := run(backendHost, backendPort, *listenPort, backlog, *metricsAddr, log); err != nil {
		log.WithError(err).Error("phishbait exited with error")
		os.Exit(1)
	}
}

func run(backendHost string, backendPort, listenPort, backlog int, metricsAddr string, log *logrus.Entry) error {
	// SIGPIPE on a half-closed socket write would otherwise kill the
	// process outright; every write in this program already checks its
	// error return, so the signal is simply discarded.
	signal.Ignore(syscall.SIGPIPE)

	candidates, err := resolver.Resolve(context.Background(), backendHost, backendPort)
	if err != nil {
		return fmt.Errorf("resolving backend %s:%d: %w", backendHost, backendPort, err)
	}

	listenFD, err := resolver.CreateListenSocket(listenPort, backlog)
	if err != nil {
		return fmt.Errorf("creating listen socket: %w", err)
	}
	defer syscallClose(listenFD)

	loop, err := reactor.New()
	if err != nil {
		return fmt.Errorf("creating event loop: %w", err)
	}
	defer loop.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	engine := proxy.NewEngine(loop, listenFD, candidates, blacklist.Stub{}, log, m)
	if err := engine.Start(); err != nil {
		return fmt.Errorf("starting accept loop: %w", err)
	}

	fmt.Printf("Forwarding connections from 0.0.0.0:%d to %s:%d...\n", listenPort, backendHost, backendPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, reg); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		close(stop)
	}()

	return loop.Run(stop)
}

func syscallClose(fd int) {
	_ = os.NewFile(uintptr(fd), "listener").Close()
}
