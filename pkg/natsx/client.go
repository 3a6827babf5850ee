package natsx

import (
	"errors"
	"log/slog"

	"github.com/casualjim/relay/pkg/slogx"
	"github.com/nats-io/nats.go"
)

// ErrNoURL is returned by Connect when no server URL is configured.
var ErrNoURL = errors.New("natsx: no server url configured")

// Connect opens a connection to the NATS server at url. When no options are
// given the connection is named "relay", uses compression and logs
// disconnects and reconnects.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	if url == "" {
		return nil, ErrNoURL
	}
	if len(opts) == 0 {
		log := slogx.Named(nil, "nats")
		opts = append(opts,
			nats.Name("relay"),
			nats.Compression(true),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Warn("disconnected", slogx.Error(err))
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Info("reconnected", slog.String("url", c.ConnectedUrl()))
			}),
		)
	}
	return nats.Connect(url, opts...)
}
