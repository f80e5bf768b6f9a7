package engine

import "time"

// Loop serializes concurrent access to an Engine onto a single
// goroutine via a mailbox of closures, the same discipline the
// session-management layer it's grounded on uses for its own request
// channel: every exported method here just posts a closure and,
// if it needs a result, waits on a reply channel.
type Loop struct {
	eng      *Engine
	actionch chan func()
	done     chan struct{}
}

// NewLoop wraps eng for concurrent use and starts its goroutine.
func NewLoop(eng *Engine) *Loop {
	l := &Loop{
		eng:      eng,
		actionch: make(chan func(), 64),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	for {
		select {
		case fn := <-l.actionch:
			fn()
		case <-l.done:
			return
		}
	}
}

// Stop terminates the loop goroutine. Queued actions are dropped.
func (l *Loop) Stop() {
	close(l.done)
}

// Do runs fn on the loop's goroutine and blocks until it returns.
func (l *Loop) Do(fn func(*Engine)) {
	reply := make(chan struct{})
	l.actionch <- func() {
		fn(l.eng)
		close(reply)
	}
	<-reply
}

// Post runs fn on the loop's goroutine without waiting for it to
// finish, for fire-and-forget events like transport callbacks.
func (l *Loop) Post(fn func(*Engine)) {
	l.actionch <- func() { fn(l.eng) }
}

// DrainOutbox is a convenience wrapper returning the outbox commands
// queued since the last drain.
func (l *Loop) DrainOutbox() []OutCommand {
	var out []OutCommand
	l.Do(func(e *Engine) { out = e.Drain() })
	return out
}

// Tick posts a Tick event.
func (l *Loop) Tick(now time.Time) {
	l.Post(func(e *Engine) { e.Tick(now) })
}
