package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/puyokura/nchat/logger"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(2)
	}

	closer := logger.Init(cfg.Log)
	defer closer.Close()
	log := logger.New("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, log); err != nil {
		log.WithError(err).Error("server stopped")
		closer.Close()
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, stop func(), cfg Config, log *logger.Logger) error {
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Address, err)
	}

	var observers []Observer

	if cfg.NATS.URL != "" {
		relay, closeRelay, err := DialRelay(cfg.NATS.URL, cfg.NATS.Subject, logger.New("relay"))
		if err != nil {
			log.WithError(err).Warn("running without NATS relay")
		} else {
			defer closeRelay()
			observers = append(observers, relay)
			log.Infof("relaying to NATS at %s", cfg.NATS.URL)
		}
	}

	if cfg.Redis.URL != "" {
		presence, closePresence, err := DialPresence(ctx, cfg.Redis.URL, cfg.Redis.Key, logger.New("presence"))
		if err != nil {
			log.WithError(err).Warn("running without redis presence")
		} else {
			defer closePresence()
			go presence.Run(ctx)
			observers = append(observers, presence)
			log.Infof("mirroring members to redis key %s", cfg.Redis.Key)
		}
	}

	var hub *Hub
	if cfg.Monitor.Address != "" {
		hub = NewHub(logger.New("monitor"))
		observers = append(observers, hub)
	}

	engine := NewEngine(conn, NewState(cfg.Groups...), logger.New("engine"), observers...)

	if hub != nil {
		monitor, err := NewMonitor(hub, engine, cfg.Monitor.AdminPassword, logger.New("monitor"))
		if err != nil {
			conn.Close()
			return err
		}
		go hub.Run(ctx)
		srv := &http.Server{Addr: cfg.Monitor.Address, Handler: monitor.Handler()}
		go func() {
			log.Infof("monitor listening on http://%s", cfg.Monitor.Address)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("monitor stopped")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.WithError(err).Warn("monitor shutdown")
			}
		}()
	}

	if cfg.Console {
		go NewConsole(engine, os.Stdout, stop).Run(ctx, os.Stdin)
	}

	err = engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
