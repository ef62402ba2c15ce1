package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// DialerConfig tunes the outbound connection mode, where the relay dials
// the gateway instead of accepting connections from it.
type DialerConfig struct {
	URL               string
	ReconnectInterval time.Duration
	DialTimeout       time.Duration
}

// DefaultDialerConfig returns the baseline dialer tuning.
func DefaultDialerConfig(url string) DialerConfig {
	return DialerConfig{
		URL:               url,
		ReconnectInterval: 5 * time.Second,
		DialTimeout:       10 * time.Second,
	}
}

// Dialer maintains one outbound gateway connection, redialing with a
// fixed interval whenever it drops.
type Dialer struct {
	cfg    DialerConfig
	relay  *Relay
	logger *slog.Logger
}

// NewDialer creates an outbound connection maintainer for the relay.
func NewDialer(cfg DialerConfig, r *Relay, logger *slog.Logger) *Dialer {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, relay: r, logger: logger}
}

// Run dials the gateway and serves the connection until the context is
// cancelled, sleeping a fixed interval between attempts. One connection
// is maintained at a time.
func (d *Dialer) Run(ctx context.Context) {
	for {
		if err := d.connectAndServe(ctx); err != nil {
			d.logger.Warn("gateway dial failed",
				slog.String("url", d.cfg.URL),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.ReconnectInterval):
		}
	}
}

func (d *Dialer) connectAndServe(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.DialTimeout)
	ws, _, err := websocket.Dial(dialCtx, d.cfg.URL, nil)
	cancel()
	if err != nil {
		return err
	}

	d.relay.serveConn(ctx, ws, d.cfg.URL)
	return nil
}
