package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/brc1h/internal/device"
	"github.com/srg/brc1h/pkg/config"
	"github.com/srg/brc1h/pkg/session"
)

// ErrNoAddress is returned when neither --address nor the configuration names
// a controller.
var ErrNoAddress = errors.New("controller address required: pass --address or set device.address")

// transportOverride replaces the BLE transport (can be overridden in tests)
var transportOverride device.Transport

// commandEnv holds what every subcommand resolves before talking to the
// controller.
type commandEnv struct {
	cfg     *config.Config
	logger  *logrus.Logger
	address string
}

// loadEnv reads the configuration and flags. quiet selects the default log
// level of interactive commands.
func loadEnv(cmd *cobra.Command, quiet bool) (*commandEnv, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	address, _ := cmd.Flags().GetString("address")
	if address == "" {
		address = cfg.Device.Address
	}
	if address == "" {
		return nil, ErrNoAddress
	}
	cfg.Device.Address = address

	fallback := logrus.PanicLevel
	if !quiet {
		fallback, _ = logrus.ParseLevel(cfg.LogLevel)
	}
	logger, err := configureLogger(cmd, fallback)
	if err != nil {
		return nil, err
	}

	return &commandEnv{cfg: cfg, logger: logger, address: address}, nil
}

func (e *commandEnv) sessionOptions() []session.Option {
	return append([]session.Option{session.WithLogger(e.logger)}, transportOptions()...)
}

func transportOptions() []session.Option {
	if transportOverride == nil {
		return nil
	}
	return []session.Option{session.WithTransport(transportOverride)}
}

// openSession connects to the controller while showing progress.
func (e *commandEnv) openSession(ctx context.Context, cmd *cobra.Command) (*session.Session, error) {
	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", e.address), "Connecting", "Ready", "Failed")
	progress.Start()
	defer progress.Stop()

	opts := append(e.sessionOptions(), session.WithStateListener(func(_, current session.ConnectionState) {
		switch current {
		case session.Ready:
			progress.Callback()("Ready")
		case session.Failed:
			progress.Callback()("Failed")
		default:
			progress.Callback()(current.String())
		}
	}))

	sess, err := session.Open(ctx, e.address, e.cfg.SessionConfig(), opts...)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// closeSession closes sess, logging failures.
func (e *commandEnv) closeSession(sess *session.Session) {
	if err := sess.Close(); err != nil {
		e.logger.WithError(err).Warn("Failed to close session")
	}
}

// interruptContext returns a context canceled on SIGINT or SIGTERM.
func interruptContext(logger *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
