// Package looper provides a serial execution context: a single goroutine that
// runs posted tasks one at a time in FIFO order.
//
// Each signaling channel owns one Looper. Its state is only touched from tasks
// running on that Looper, so it needs no further locking.
package looper

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
	"github.com/pion/logging"
	"github.com/pkg/errors"
	"github.com/tevino/abool"
)

// ErrNotOnLooper is the panic value of AssertCurrent when called off the looper.
var ErrNotOnLooper = errors.New("called off the owning looper")

// Looper runs tasks sequentially on a dedicated goroutine.
type Looper struct {
	name string
	log  logging.LeveledLogger

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	quit *abool.AtomicBool
	done chan struct{}
	gid  atomic.Int64
}

// New starts a looper. A nil factory falls back to the pion default.
func New(name string, lf logging.LoggerFactory) *Looper {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	l := &Looper{
		name: name,
		log:  lf.NewLogger("looper"),
		wake: make(chan struct{}, 1),
		quit: abool.New(),
		done: make(chan struct{}),
	}
	go l.loop()
	return l
}

// Name returns the name the looper was created with.
func (l *Looper) Name() string {
	return l.name
}

// Post schedules f to run on the looper. It never blocks and returns false if
// the looper has quit.
func (l *Looper) Post(f func()) bool {
	l.mu.Lock()
	if l.quit.IsSet() {
		l.mu.Unlock()
		l.log.Debugf("%s: dropping task posted after quit", l.name)
		return false
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Invoke runs f on the looper and waits for it to finish. Called from the
// looper itself, f runs inline. It returns false if f never ran because the
// looper quit first.
func (l *Looper) Invoke(f func()) bool {
	if l.IsCurrent() {
		f()
		return true
	}
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		f()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// IsCurrent reports whether the caller is running on the looper goroutine.
func (l *Looper) IsCurrent() bool {
	return goid.Get() == l.gid.Load()
}

// AssertCurrent panics with ErrNotOnLooper unless called from the looper.
func (l *Looper) AssertCurrent() {
	if !l.IsCurrent() {
		panic(errors.Wrap(ErrNotOnLooper, l.name))
	}
}

// Quit stops the looper. Tasks still queued are discarded; a running task
// completes first.
func (l *Looper) Quit() {
	l.mu.Lock()
	if !l.quit.SetToIf(false, true) {
		l.mu.Unlock()
		return
	}
	dropped := len(l.queue)
	l.queue = nil
	l.mu.Unlock()

	if dropped > 0 {
		l.log.Debugf("%s: quit with %d pending tasks", l.name, dropped)
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the looper goroutine has exited.
func (l *Looper) Done() <-chan struct{} {
	return l.done
}

func (l *Looper) loop() {
	defer close(l.done)
	l.gid.Store(goid.Get())

	for {
		task, ok := l.next()
		if !ok {
			return
		}
		task()
	}
}

func (l *Looper) next() (func(), bool) {
	for {
		l.mu.Lock()
		if l.quit.IsSet() {
			l.mu.Unlock()
			return nil, false
		}
		if len(l.queue) > 0 {
			task := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return task, true
		}
		l.mu.Unlock()
		<-l.wake
	}
}
