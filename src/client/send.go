package client

import (
	"encoding/json"

	"github.com/orchestra-mcp/socketclient/src/types"
)

// Send builds an envelope and hands it to the transport. It returns false
// without any I/O when the connection is not open, and false when encoding
// or the write fails. Messages are never queued.
func (c *Client) Send(msgType string, data any) bool {
	c.mu.Lock()
	sess := c.sess
	open := sess != nil && c.state == types.StateOpen
	c.mu.Unlock()

	if !open {
		c.metrics.sendFailed("not_connected")
		return false
	}
	return c.sendOn(sess, msgType, data)
}

// sendOn writes to sess only if it is still the open session.
func (c *Client) sendOn(sess *session, msgType string, data any) bool {
	env, err := types.NewEnvelope(msgType, data)
	if err != nil {
		c.metrics.sendFailed("encode")
		c.logger.Warn().Err(err).Str("type", msgType).Msg("encode envelope")
		return false
	}
	frame, err := json.Marshal(env)
	if err != nil {
		c.metrics.sendFailed("encode")
		c.logger.Warn().Err(err).Str("type", msgType).Msg("encode envelope")
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	current := c.sess == sess && c.state == types.StateOpen
	c.mu.Unlock()
	if !current {
		c.metrics.sendFailed("not_connected")
		return false
	}

	if err := sess.conn.WriteMessage(frame); err != nil {
		c.metrics.sendFailed("write")
		c.logger.Debug().Err(err).Str("type", msgType).Msg("write failed")
		return false
	}
	c.metrics.sent(msgType)
	return true
}
