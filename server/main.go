package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// configPath finds --config before the full flag set exists, since the
// file supplies the defaults the other flags override
func configPath(args []string) string {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	path := fs.String("config", "", "")
	_ = fs.Parse(args)
	return *path
}

func run(args []string) error {
	cfg, err := LoadConfig(configPath(args))
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.Getenv)

	fs := pflag.NewFlagSet("chatsnake", pflag.ContinueOnError)
	fs.String("config", "", "YAML config file")
	mintToken := fs.Bool("admin-token", false, "Print a signed /status token and exit")
	hashPassword := fs.String("hash-password", "", "Print the bcrypt hash of an admin password and exit")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *hashPassword != "" {
		hash, err := HashAdminPassword(*hashPassword)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	metrics := &Metrics{}
	hub := NewHub(cfg, store, log, metrics)
	admin := NewAdmin(hub, store, cfg.Admin, log.Named("admin"))

	if *mintToken {
		token, err := admin.GenerateToken(adminTokenExpiry)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	if s, ok := store.(*SQLiteStore); ok {
		events := NewEventLog(s, log.Named("events"))
		defer events.Stop()
		hub.SetEventSink(events)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	server := &http.Server{Addr: cfg.Addr, Handler: SetupRoutes(hub, admin)}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", cfg.Addr), zap.String("store", cfg.Store),
			zap.Int("tick_rate", cfg.Game.TickRate))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stop()
		<-hubDone
		return fmt.Errorf("listen: %w", err)
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	<-hubDone
	return nil
}

// openStore builds the configured message store and its cleanup
func openStore(cfg Config, log *zap.Logger) (MessageStore, func(), error) {
	switch cfg.Store {
	case StoreSQLite:
		s, err := OpenSQLiteStore(cfg.SQLitePath, log.Named("sqlite"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn("close sqlite", zap.Error(err))
			}
		}, nil
	default:
		client := &http.Client{Timeout: cfg.PersistTimeout}
		return NewPayloadStore(cfg.PayloadURL, client), func() {}, nil
	}
}
