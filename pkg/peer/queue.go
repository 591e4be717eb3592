package peer

import "github.com/alljoyn-go/securepeer/pkg/errs"

// workQueue is the single-threaded dispatch queue that runs the
// KeyExchange/KeyAuthentication responder methods off the transport's read
// thread, per §4.G's concurrency note: authentication can block on user
// interaction or computation, so the thread that feeds incoming bus
// messages must never run it directly.
//
// Depth bounds the tasks waiting behind the one currently executing: with
// depth n, n tasks can wait while one more runs. A full queue reports ErrWouldBlock rather than
// blocking the submitter, mirroring the teacher's non-blocking dispatch
// pattern in pkg/exchange.Manager.
type workQueue struct {
	tasks chan func()
	done  chan struct{}
}

func newWorkQueue(depth int) *workQueue {
	q := &workQueue{
		tasks: make(chan func(), depth),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *workQueue) run() {
	for {
		select {
		case fn, ok := <-q.tasks:
			if !ok {
				return
			}
			fn()
		case <-q.done:
			return
		}
	}
}

// Submit enqueues fn for execution on the single worker goroutine. It
// returns ErrWouldBlock immediately if depth tasks are already waiting; the
// task currently running is not counted.
func (q *workQueue) Submit(fn func()) error {
	select {
	case q.tasks <- fn:
		return nil
	default:
		return errs.ErrWouldBlock
	}
}

// Close stops the worker goroutine. Pending tasks are dropped.
func (q *workQueue) Close() {
	close(q.done)
}
