package detect

import "time"

const DefaultAlertDuration = 5500 * time.Millisecond

// Presenter shows at most one milestone at a time for a bounded duration.
// A newer milestone pre-empts the visible one.
//
// Presenter is not safe for concurrent use. When an alert's duration elapses
// it calls expire(gen) from a timer goroutine; the owner must route that back
// to its own loop and call Expire(gen) there, so a stale timer (one that was
// pre-empted) becomes a no-op.
type Presenter struct {
	duration time.Duration
	expire   func(gen uint64)

	current *Milestone
	gen     uint64
	timer   *time.Timer
}

func NewPresenter(duration time.Duration, expire func(gen uint64)) *Presenter {
	if duration <= 0 {
		duration = DefaultAlertDuration
	}
	return &Presenter{duration: duration, expire: expire}
}

// Show makes m the visible alert and returns its generation.
func (p *Presenter) Show(m Milestone) uint64 {
	p.stopTimer()
	p.gen++
	p.current = &m

	gen := p.gen
	if p.expire != nil {
		p.timer = time.AfterFunc(p.duration, func() { p.expire(gen) })
	}
	return gen
}

// Expire retracts the visible alert if gen is still current.
func (p *Presenter) Expire(gen uint64) bool {
	if p.current == nil || gen != p.gen {
		return false
	}
	p.current = nil
	p.timer = nil
	return true
}

func (p *Presenter) Current() (Milestone, bool) {
	if p.current == nil {
		return Milestone{}, false
	}
	return *p.current, true
}

// Stop cancels the pending expiry and clears the visible alert.
func (p *Presenter) Stop() {
	p.stopTimer()
	p.current = nil
}

func (p *Presenter) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
