// Package timer provides the host timer session and the guest's virtual
// generic timer.
package timer

import (
	"sync"
	"time"

	"github.com/bobuhiro11/govmm/signal"
	"github.com/sirupsen/logrus"
)

// Connection is a one-shot host timer. Timeouts are delivered as signals so
// they are handled on the entrypoint like any other event.
type Connection struct {
	log   *logrus.Entry
	start time.Time

	mu   sync.Mutex
	t    *time.Timer
	sigh signal.Transmitter
}

func NewConnection(log *logrus.Entry) *Connection {
	return &Connection{log: log, start: time.Now()}
}

// Sigh installs the transmitter signalled on timeout.
func (c *Connection) Sigh(t signal.Transmitter) {
	c.mu.Lock()
	c.sigh = t
	c.mu.Unlock()
}

// TriggerOnce arms the timer to fire once after us microseconds, replacing
// a pending timeout.
func (c *Connection) TriggerOnce(us uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.t != nil {
		c.t.Stop()
	}

	c.t = time.AfterFunc(time.Duration(us)*time.Microsecond, c.fire)
}

func (c *Connection) fire() {
	c.mu.Lock()
	sigh := c.sigh
	c.mu.Unlock()

	if err := sigh.Submit(); err != nil {
		c.log.WithError(err).Warn("timer timeout dropped")
	}
}

func (c *Connection) ElapsedMs() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.t != nil {
		c.t.Stop()
		c.t = nil
	}
}
