package fanout

import (
	"context"

	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/metrics"
	"github.com/mahaj/chatsync/pkg/presence"
)

// Connections is the part of the presence registry LocalTransport needs.
type Connections interface {
	ListConnections(userID string) []presence.Conn
}

// LocalTransport writes to connections held by this process.
type LocalTransport struct {
	conns Connections
	log   *logging.Logger
}

func NewLocalTransport(conns Connections, log *logging.Logger) *LocalTransport {
	return &LocalTransport{conns: conns, log: log.With("component", "local_transport")}
}

// Deliver writes d to every connection of every recipient. Offline users
// are skipped. It returns ErrTransportUnavailable only when no recipient
// had a connection, which callers treat as a no-op.
func (t *LocalTransport) Deliver(ctx context.Context, d Delivery) error {
	reached := 0
	for _, user := range d.Recipients {
		for _, c := range t.conns.ListConnections(user) {
			reached++
			if !c.Send(d.Data) {
				metrics.EventsDropped.WithLabelValues("buffer_full").Inc()
				t.log.Warn("send buffer full, dropping event", "user_id", user, "conn_id", c.ID(), "type", d.Type)
				continue
			}
			metrics.EventsDelivered.WithLabelValues(string(d.Type)).Inc()
		}
	}
	if reached == 0 {
		return chaterr.ErrTransportUnavailable
	}
	return nil
}
