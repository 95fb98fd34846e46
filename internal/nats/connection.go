// Package nats opens the worker's NATS connection.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	gerrors "github.com/wehubfusion/Gorilla/pkg/errors"
)

// ConnectionConfig holds configuration for the NATS connection.
type ConnectionConfig struct {
	// URL is the NATS server URL, e.g. "nats://localhost:4222".
	URL string

	// Name identifies this client to the server.
	Name string

	// MaxReconnects is the reconnect limit; -1 retries forever.
	MaxReconnects int

	ReconnectWait time.Duration
	Timeout       time.Duration

	// Token takes precedence over Username/Password.
	Token    string
	Username string
	Password string
}

// DefaultConnectionConfig returns a configuration with defaults for url.
func DefaultConnectionConfig(url string) *ConnectionConfig {
	return &ConnectionConfig{
		URL:           url,
		Name:          "gorilla-merge-worker",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Validate rejects configurations Connect cannot use.
func (c *ConnectionConfig) Validate() error {
	if c == nil {
		return gerrors.NewValidationError("connection config cannot be nil", nil)
	}
	if c.URL == "" {
		return gerrors.NewValidationError("NATS URL cannot be empty", nil)
	}
	if c.Timeout < 0 || c.ReconnectWait < 0 {
		return gerrors.NewValidationError("NATS timeouts cannot be negative", nil)
	}
	return nil
}

// options converts the configuration to nats.Options, logging connection
// state changes through logger.
func (c *ConnectionConfig) options(logger *zap.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(c.Name),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
		nats.Timeout(c.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	if c.Token != "" {
		opts = append(opts, nats.Token(c.Token))
	} else if c.Username != "" && c.Password != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}
	return opts
}

// Connect dials NATS, giving up when ctx is done.
func Connect(ctx context.Context, config *ConnectionConfig, logger *zap.Logger) (*nats.Conn, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		conn, err := nats.Connect(config.URL, config.options(logger)...)
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, gerrors.NewError(gerrors.Code(ctx.Err()), "connection cancelled", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, gerrors.NewError(gerrors.CodeNetwork, "failed to connect to NATS",
				fmt.Errorf("%w: %v", gerrors.ErrNotConnected, res.err))
		}
		logger.Info("Connected to NATS", zap.String("url", res.conn.ConnectedUrl()))
		return res.conn, nil
	}
}

// JetStream returns the JetStream context of a live connection.
func JetStream(conn *nats.Conn) (nats.JetStreamContext, error) {
	if !IsConnected(conn) {
		return nil, gerrors.ErrNotConnected
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	return js, nil
}

// Close drains conn, closing it outright if draining fails.
func Close(conn *nats.Conn) error {
	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("error draining connection: %w", err)
	}
	return nil
}

// IsConnected checks if the connection is active.
func IsConnected(conn *nats.Conn) bool {
	return conn != nil && conn.IsConnected()
}
