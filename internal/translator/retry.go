package translator

import "time"

// The retry behavior after a rate-limit signal is split into two policies
// driven by one controller: first rotate through the key pool (bounded by
// pool size per cycle), then back off exponentially (bounded by a retry
// ceiling). Each policy is testable on its own.

// rotationPolicy bounds rotation to one pass over the pool per cycle.
type rotationPolicy struct {
	poolSize int
	tried    int // pool members tried in the current cycle
}

// next reports whether an untried pool member remains in this cycle. The
// attempt that just failed counts as having tried the current key.
func (p *rotationPolicy) next() bool {
	p.tried++
	return p.tried < p.poolSize
}

func (p *rotationPolicy) resetCycle() {
	p.tried = 0
}

// backoffPolicy applies linear-multiple backoff (base × retryCount) up to a
// fixed ceiling of retries.
type backoffPolicy struct {
	base       time.Duration
	maxRetries int
	retryCount int
}

// next returns the delay before the next cycle, or ok=false once the retry
// ceiling is exhausted.
func (p *backoffPolicy) next() (delay time.Duration, ok bool) {
	if p.retryCount >= p.maxRetries {
		return 0, false
	}
	p.retryCount++
	return p.base * time.Duration(p.retryCount), true
}

// retryAction is the controller's verdict after one rate-limited attempt.
type retryAction int

const (
	actionRotate retryAction = iota
	actionBackoff
	actionFail
)

// retryController composes the two policies, scoped to one chunk's call.
type retryController struct {
	rotation rotationPolicy
	backoff  backoffPolicy
}

func newRetryController(poolSize int, base time.Duration, maxRetries int) *retryController {
	return &retryController{
		rotation: rotationPolicy{poolSize: poolSize},
		backoff:  backoffPolicy{base: base, maxRetries: maxRetries},
	}
}

// onRateLimit decides the next step after a rate-limit signal: rotate while
// the pool has untried members this cycle, back off once it is exhausted,
// fail terminally once the backoff ceiling is hit.
func (c *retryController) onRateLimit() (retryAction, time.Duration) {
	if c.rotation.next() {
		return actionRotate, 0
	}
	c.rotation.resetCycle()
	if delay, ok := c.backoff.next(); ok {
		return actionBackoff, delay
	}
	return actionFail, 0
}

// retries returns how many backoff cycles have run, for status reporting.
func (c *retryController) retries() int {
	return c.backoff.retryCount
}
