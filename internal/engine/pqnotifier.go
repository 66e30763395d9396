package engine

import (
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// PQNotifier adapts *pq.Listener to Notifier: it owns the single
// LISTEN/NOTIFY connection a running daemon keeps open and translates
// every pq.Notification into the engine's driver-independent shape, so
// dispatchLoop never imports lib/pq directly.
type PQNotifier struct {
	listener *pq.Listener
	ch       chan *Notification
	done     chan struct{}
}

// NewPQNotifier opens a dedicated LISTEN/NOTIFY connection against dsn.
// The listener reconnects with pq.NewListener's own backoff, fixed here
// at 10s minimum and 1 minute maximum; reconnect events are logged rather than surfaced, since a
// transient disconnect just delays dispatch, it doesn't fail it.
func NewPQNotifier(dsn string, logger *logrus.Logger) *PQNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.WithError(err).Warn("pg_subscribe: listener connection event")
		}
	}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)

	n := &PQNotifier{
		listener: listener,
		ch:       make(chan *Notification, 1024),
		done:     make(chan struct{}),
	}
	go n.forward()
	return n
}

// forward drains the listener's Notify channel onto n.ch, periodically
// pinging the connection during quiet spells so a dead link is noticed
// rather than silently going stale.
func (n *PQNotifier) forward() {
	for {
		select {
		case <-n.done:
			return
		case note, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			if note == nil {
				// nil means the connection dropped and reconnected;
				// attach()'d channels are re-LISTENed by pq.Listener
				// itself, so there's nothing to redo here.
				continue
			}
			n.ch <- &Notification{Channel: note.Channel, Payload: note.Extra}
		case <-time.After(90 * time.Second):
			_ = n.listener.Ping()
		}
	}
}

func (n *PQNotifier) Listen(channel string) error   { return n.listener.Listen(channel) }
func (n *PQNotifier) Unlisten(channel string) error { return n.listener.Unlisten(channel) }

func (n *PQNotifier) Notifications() <-chan *Notification { return n.ch }

func (n *PQNotifier) Close() error {
	close(n.done)
	return n.listener.Close()
}

var _ Notifier = (*PQNotifier)(nil)
