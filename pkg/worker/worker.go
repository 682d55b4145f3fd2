package worker

import (
	"sync/atomic"

	"github.com/hbomb79/Tempo/pkg/logger"
)

var log = logger.Get("Worker")

type (
	WorkerWakeupChan chan int
	WorkerStatus     int32

	// WorkerTask is the function a worker runs repeatedly. The boolean
	// return indicates whether work was found; when false, the worker
	// sleeps until it is woken by the pool (or the pool is closed).
	WorkerTask func(Worker) (bool, error)

	Worker interface {
		Start()
		Status() WorkerStatus
		WakeupChan() WorkerWakeupChan
		Label() string
		Sleep() bool
		Close()
	}

	taskWorker struct {
		label         string
		task          WorkerTask
		wakeupChan    WorkerWakeupChan
		currentStatus atomic.Int32
	}
)

const (
	SLEEPING WorkerStatus = iota
	WORKING
	FINISHED
)

func NewWorker(label string, task WorkerTask) *taskWorker {
	w := &taskWorker{
		label:      label,
		task:       task,
		wakeupChan: make(WorkerWakeupChan, 1),
	}
	w.setStatus(SLEEPING)

	return w
}

// Start runs the workers task in a loop until the wakeup channel
// is closed. This method blocks, so it should be run inside
// of a goroutine (the WorkerPool does this automatically).
func (worker *taskWorker) Start() {
	log.Emit(logger.NEW, "Starting worker with label %v\n", worker.label)
	worker.setStatus(WORKING)

	for {
		didWork, err := worker.task(worker)
		if err != nil {
			log.Emit(logger.ERROR, "Worker with label %v has reported an error(%T): %v\n", worker.label, err, err)
		}

		if !didWork {
			if !worker.Sleep() {
				break
			}
		}
	}

	worker.setStatus(FINISHED)
	log.Emit(logger.STOP, "Worker with label %v has stopped\n", worker.label)
}

// Status returns the current status of this worker
func (worker *taskWorker) Status() WorkerStatus {
	return WorkerStatus(worker.currentStatus.Load())
}

func (worker *taskWorker) WakeupChan() WorkerWakeupChan {
	return worker.wakeupChan
}

// Close closes the Worker by closing the WakeChan.
// Note that this does not interupt currently running
// tasks.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

// Label returns the label for this worker
func (worker *taskWorker) Label() string {
	return worker.label
}

// Sleep puts a worker to sleep until it's wakeupChan is
// signalled from another goroutine. Returns a boolean that
// is 'false' if the wakeup channel was closed - indicating
// the worker should quit.
func (worker *taskWorker) Sleep() (isAlive bool) {
	worker.setStatus(SLEEPING)

	if _, isAlive = <-worker.wakeupChan; isAlive {
		worker.setStatus(WORKING)
	} else {
		log.Emit(logger.VERBOSE, "Wakeup channel for worker '%v' has been closed - worker is exiting\n", worker.label)
	}

	return isAlive
}

func (worker *taskWorker) setStatus(s WorkerStatus) {
	worker.currentStatus.Store(int32(s))
}

func (s WorkerStatus) String() string {
	switch s {
	case SLEEPING:
		return "SLEEPING"
	case WORKING:
		return "WORKING"
	case FINISHED:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}
