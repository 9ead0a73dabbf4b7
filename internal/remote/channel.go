package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
	"github.com/ByteInternet/nginx-config-reloader/internal/reconciler"
)

const (
	connectTimeout = time.Second
	reconnectWait  = time.Second
	maxReconnects  = 5
	drainTimeout   = 3 * time.Second
	flushTimeout   = 2 * time.Second
)

// Reloader serves reload requests received from the subject.
type Reloader interface {
	Reload(ctx context.Context, opts reconciler.ReloadOptions) reconciler.Result
}

// Options configures a Channel.
type Options struct {
	Server  string
	Subject string
	Payload string
	TLS     TLSFiles
}

// Channel is a connected NATS client bound to one reload subject.
type Channel struct {
	opts   Options
	conn   *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// Connect dials the server. TLS is used when opts.TLS is complete.
func Connect(opts Options, logger *slog.Logger) (*Channel, error) {
	if opts.Server == "" {
		return nil, errors.New("nats server not configured")
	}
	logger = logging.NewComponentLogger(logger, "remote")

	natsOpts := []nats.Option{
		nats.Name("nginx-config-reloader"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DrainTimeout(drainTimeout),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logging.WarnWithContext(logger, "nats error", "nats_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "remote reload requests may be missed"),
			)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to nats", logging.String("server", nc.ConnectedUrlRedacted()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Info("disconnected from nats", logging.Error(err))
			}
		}),
	}
	if opts.TLS.Complete() {
		natsOpts = append(natsOpts,
			nats.ClientCert(opts.TLS.Cert, opts.TLS.Key),
			nats.RootCAs(opts.TLS.CA),
		)
	}

	logger.Debug("connecting to nats", logging.String("server", opts.Server), logging.Bool("tls", opts.TLS.Complete()))
	conn, err := nats.Connect(opts.Server, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", opts.Server, err)
	}
	return &Channel{opts: opts, conn: conn, logger: logger}, nil
}

// Subscribe starts delivering reload requests to reloader. The callback runs
// on the client's dispatch goroutine until ctx ends or the channel is closed.
func (c *Channel) Subscribe(ctx context.Context, reloader Reloader) error {
	sub, err := c.conn.Subscribe(c.opts.Subject, newHandler(ctx, c.opts, reloader, c.logger))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.opts.Subject, err)
	}
	c.sub = sub
	c.logger.Info("listening for remote reload requests", logging.String("subject", c.opts.Subject))
	return nil
}

// PublishReload asks every subscriber, including this host, to reload nginx.
func (c *Channel) PublishReload(ctx context.Context) error {
	c.logger.Debug("publishing reload request",
		logging.String("subject", c.opts.Subject),
		logging.String("payload", c.opts.Payload),
	)
	if err := c.conn.Publish(c.opts.Subject, []byte(c.opts.Payload)); err != nil {
		return fmt.Errorf("publish %s: %w", c.opts.Subject, err)
	}
	if _, ok := ctx.Deadline(); ok {
		return c.conn.FlushWithContext(ctx)
	}
	return c.conn.FlushTimeout(flushTimeout)
}

// Connected reports whether the client currently has a server connection.
func (c *Channel) Connected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

// Close drains pending messages and closes the connection.
func (c *Channel) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

func newHandler(ctx context.Context, opts Options, reloader Reloader, logger *slog.Logger) nats.MsgHandler {
	payload := []byte(opts.Payload)
	return func(msg *nats.Msg) {
		if msg.Subject != opts.Subject || !bytes.Equal(msg.Data, payload) {
			logger.Debug("ignoring remote message",
				logging.String("subject", msg.Subject),
				logging.Int("bytes", len(msg.Data)),
			)
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.Debug("remote reload request received")
		res := reloader.Reload(ctx, reconciler.ReloadOptions{ReloadOnly: true, Trigger: reconciler.TriggerRemote})
		if !res.OK() {
			logger.Info("remote reload did not succeed",
				logging.String(logging.FieldOutcome, string(res.Outcome)),
				logging.String(logging.FieldFailureKind, string(res.Kind)),
			)
		}
	}
}
