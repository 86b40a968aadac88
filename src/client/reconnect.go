package client

import "time"

// reconnectPolicy is a fixed-interval retry counter with a one-shot timer.
// It is not safe for concurrent use; the client guards it with its mutex.
type reconnectPolicy struct {
	interval time.Duration
	max      int
	attempts int

	timer *time.Timer
	token uint64 // bumped whenever the pending timer is replaced or cancelled
}

func newReconnectPolicy(interval time.Duration, max int) *reconnectPolicy {
	return &reconnectPolicy{interval: interval, max: max}
}

// schedule arms the timer for the next attempt and reports false once the
// budget is spent. fire receives a token that must be claimed before acting.
func (p *reconnectPolicy) schedule(fire func(token uint64)) bool {
	if p.attempts >= p.max {
		return false
	}
	p.attempts++
	p.stopTimer()
	token := p.token
	p.timer = time.AfterFunc(p.interval, func() { fire(token) })
	return true
}

// claim consumes the pending timer if token still identifies it.
func (p *reconnectPolicy) claim(token uint64) bool {
	if p.timer == nil || token != p.token {
		return false
	}
	p.timer = nil
	p.token++
	return true
}

func (p *reconnectPolicy) pending() bool { return p.timer != nil }

// stopTimer drops a pending timer without touching the attempt counter.
func (p *reconnectPolicy) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.token++
}

// cancel drops a pending timer and restores the full budget.
func (p *reconnectPolicy) cancel() {
	p.stopTimer()
	p.attempts = 0
}

func (p *reconnectPolicy) reset() { p.attempts = 0 }
