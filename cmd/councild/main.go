// Command councild serves the council over HTTP and WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hupe1980/agentcouncil"
	"github.com/hupe1980/agentcouncil/config"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/server"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	dotEnv := flag.String("env", ".env", "path to a .env file (ignored when missing)")
	watch := flag.Bool("watch", false, "log config file changes")
	flag.Parse()

	if err := run(*configPath, *dotEnv, *watch); err != nil {
		fmt.Fprintf(os.Stderr, "councild: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dotEnv string, watch bool) error {
	cfg, err := config.Load(configPath, dotEnv)
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	council, err := agentcouncil.New(func(o *agentcouncil.Options) {
		o.Config = cfg
		o.Logger = logger
	})
	if err != nil {
		return err
	}
	defer council.Close()

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	if watch && configPath != "" {
		go func() {
			err := config.Watch(serverCtx, configPath, dotEnv, func(next *config.Config, err error) {
				if err != nil {
					logger.Warn("Config reload failed", "path", configPath, "error", err)
					return
				}
				logger.Info("Config file changed; restart to apply", "path", configPath, "theme", next.Council.Theme)
			})
			if err != nil {
				logger.Warn("Config watch stopped", "error", err)
			}
		}()
	}

	srv := server.New(council.Runner(), council.Store(), func(o *server.Options) {
		o.RequestsPerSecond = cfg.Server.RequestsPerSecond
		o.Burst = cfg.Server.Burst
		o.Logger = logging.Component(logger, "server")
	})

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}

	httpServer := &http.Server{
		Handler:           loggingMiddleware(logger, srv.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return serverCtx
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("councild listening", "addr", listener.Addr().String(), "theme", cfg.Council.Theme, "store", cfg.Store.Backend)
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// cancelling the base context ends in-flight runs and their streams
	serverCancel()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Server shutdown error", "error", err)
	}
	_ = httpServer.Close()
	return nil
}

func loggingMiddleware(logger logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}
