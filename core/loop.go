package core

// Loop is the single-threaded cooperative event loop every stack
// mutation runs on. Tasks are executed strictly in submission order;
// there is no internal concurrency and handlers must not block.
type Loop struct {
	tasks      chan func()
	shouldQuit chan struct{}
	hasQuit    chan struct{}
}

const loopQueueSize = 1024

func NewLoop() *Loop {
	return &Loop{
		tasks:      make(chan func(), loopQueueSize),
		shouldQuit: make(chan struct{}),
		hasQuit:    make(chan struct{}),
	}
}

func (l *Loop) String() string {
	return "event-loop"
}

// Post enqueues a task for execution on the loop goroutine.
func (l *Loop) Post(f func()) {
	select {
	case l.tasks <- f:
	case <-l.shouldQuit:
	}
}

// Run processes tasks until Stop is called. Blocks the calling
// goroutine; typically invoked as `go loop.Run()`.
func (l *Loop) Run() {
	defer close(l.hasQuit)
	for {
		select {
		case f := <-l.tasks:
			f()
		case <-l.shouldQuit:
			// drain what was already queued
			for {
				select {
				case f := <-l.tasks:
					f()
				default:
					return
				}
			}
		}
	}
}

// Stop tells the loop to quit and waits for it to drain.
func (l *Loop) Stop() {
	close(l.shouldQuit)
	<-l.hasQuit
}
