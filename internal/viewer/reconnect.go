package viewer

import "time"

// Backoff bounds the reconnect schedule after an abnormal close.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff yields delays of 2s, 4s, 8s, 16s, 30s for attempts 1..5.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 5}
}

func (b Backoff) normalized() Backoff {
	d := DefaultBackoff()
	if b.Base <= 0 {
		b.Base = d.Base
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = d.MaxAttempts
	}
	return b
}

// Delay returns min(Base * 2^attempt, Max).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.normalized()
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		if d >= b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// reconnector holds one viewer's backoff state. It is guarded by the viewer mutex.
type reconnector struct {
	backoff Backoff
	attempt int
	phase   ReconnectPhase
	timer   Timer
	// seq invalidates timers that were stopped too late to prevent firing.
	seq uint64
}

func newReconnector(b Backoff) *reconnector {
	return &reconnector{backoff: b.normalized()}
}

// reset is called on a successful open.
func (r *reconnector) reset() {
	r.cancel()
	r.attempt = 0
	r.phase = ReconnectIdle
}

// cancel drops any pending timer without touching the attempt count.
func (r *reconnector) cancel() {
	r.seq++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.phase == ReconnectScheduled || r.phase == ReconnectConnecting {
		r.phase = ReconnectIdle
	}
}

// schedule arms the timer for the next attempt. The attempt counter is
// incremented before the delay is computed. It returns false once the
// attempts are used up.
func (r *reconnector) schedule(clock Clock, fire func(seq uint64)) (time.Duration, bool) {
	r.cancel()
	if r.attempt >= r.backoff.MaxAttempts {
		r.phase = ReconnectExhausted
		return 0, false
	}
	r.attempt++
	delay := r.backoff.Delay(r.attempt)
	seq := r.seq
	r.timer = clock.AfterFunc(delay, func() { fire(seq) })
	r.phase = ReconnectScheduled
	return delay, true
}

// begin claims a fired timer. It returns false for a timer that was cancelled.
func (r *reconnector) begin(seq uint64) bool {
	if seq != r.seq || r.phase != ReconnectScheduled {
		return false
	}
	r.timer = nil
	r.phase = ReconnectConnecting
	return true
}

// clear forgets the whole episode, used by Stop and a manual Start.
func (r *reconnector) clear() {
	r.cancel()
	r.attempt = 0
	r.phase = ReconnectIdle
}
