package client

import (
	"time"

	"github.com/orchestra-mcp/socketclient/src/types"
)

// heartbeat sends a ping on every tick while sess is the open session.
// It exits when the session is shut down.
func (c *Client) heartbeat(sess *session) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval())
	defer ticker.Stop()

	timeout := c.cfg.HeartbeatTimeout()
	for {
		select {
		case <-sess.stop:
			return
		case <-ticker.C:
			if timeout > 0 && time.Since(sess.lastSeenAt()) > timeout {
				c.logger.Warn().
					Uint64("session", sess.id).
					Time("last_seen", sess.lastSeenAt()).
					Dur("timeout", timeout).
					Msg("no inbound frames, closing stale connection")
				c.expire(sess)
				return
			}
			if c.sendOn(sess, types.TypePing, types.Heartbeat{}) {
				c.metrics.heartbeat()
			} else {
				c.logger.Debug().Uint64("session", sess.id).Msg("heartbeat not sent")
			}
		}
	}
}

// expire closes a session that missed its heartbeat deadline. The read loop
// then reports the timeout and the usual close path reconnects.
func (c *Client) expire(sess *session) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	sess.local = true
	sess.localErr = types.ErrHeartbeatTimeout
	c.mu.Unlock()

	sess.shutdown()
}
