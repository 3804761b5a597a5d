package stream

import (
	"log/slog"
	"sync"
)

// Looper runs posted functions one at a time, in order, on its own
// goroutine. It stands in for the thread that owns the view: listener
// callbacks are delivered here and never on the render goroutine.
type Looper struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []func()
	closed  bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewLooper starts a Looper.
func NewLooper(logger *slog.Logger) *Looper {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Looper{
		logger: logger,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn. It never blocks. It reports false once the Looper is closed.
func (l *Looper) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until everything posted before it has run.
func (l *Looper) Flush() {
	ran := make(chan struct{})
	if !l.Post(func() { close(ran) }) {
		<-l.done
		return
	}
	select {
	case <-ran:
	case <-l.done:
	}
}

// Close runs what is still queued and stops the goroutine.
func (l *Looper) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.quit)
	<-l.done
}

func (l *Looper) run() {
	defer close(l.done)
	for {
		select {
		case <-l.wake:
			l.drain()
		case <-l.quit:
			l.drain()
			return
		}
	}
}

func (l *Looper) drain() {
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			l.call(fn)
		}
	}
}

func (l *Looper) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("posted callback panicked", "panic", r)
		}
	}()
	fn()
}
