package tracing

import (
	"sync"

	"github.com/sarchlab/shiba/sim"
)

// TraceWriter can write completed tasks to a persistent destination, such as
// a file or a database.
type TraceWriter interface {
	// Init prepares the destination for writing.
	Init()

	// Write writes one task. The writer may buffer the task internally.
	Write(task Task)

	// Flush writes all the buffered tasks to the destination.
	Flush()
}

// WriterTracer is a tracer that forwards completed tasks to a TraceWriter.
// It allows file- and database-backed writers to be attached to any hookable
// domain through CollectTrace.
type WriterTracer struct {
	timeTeller sim.TimeTeller
	writer     TraceWriter

	lock          sync.Mutex
	inflightTasks map[string]Task
}

// NewWriterTracer creates a WriterTracer and initializes the writer.
func NewWriterTracer(
	timeTeller sim.TimeTeller,
	writer TraceWriter,
) *WriterTracer {
	t := &WriterTracer{
		timeTeller:    timeTeller,
		writer:        writer,
		inflightTasks: make(map[string]Task),
	}

	t.writer.Init()

	return t
}

// StartTask records the task start time.
func (t *WriterTracer) StartTask(task Task) {
	task.StartTime = t.timeTeller.CurrentTime()

	t.lock.Lock()
	t.inflightTasks[task.ID] = task
	t.lock.Unlock()
}

// StepTask does nothing
func (t *WriterTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask records the task end time and writes the task out.
func (t *WriterTracer) EndTask(task Task) {
	t.lock.Lock()
	originalTask, ok := t.inflightTasks[task.ID]
	if !ok {
		t.lock.Unlock()
		return
	}

	originalTask.EndTime = t.timeTeller.CurrentTime()
	delete(t.inflightTasks, task.ID)
	t.lock.Unlock()

	t.writer.Write(originalTask)
}

// Flush flushes the underlying writer.
func (t *WriterTracer) Flush() {
	t.writer.Flush()
}
