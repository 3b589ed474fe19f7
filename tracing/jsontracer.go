package tracing

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/shiba/sim"
)

// JSONTracer writes completed tasks into a JSON file.
type JSONTracer struct {
	timeTeller    sim.TimeTeller
	w             io.Writer
	lock          sync.Mutex
	firstTask     bool
	inflightTasks map[string]Task
}

// StartTask records the start of a task
func (t *JSONTracer) StartTask(task Task) {
	task.StartTime = t.timeTeller.CurrentTime()

	t.lock.Lock()
	t.inflightTasks[task.ID] = task
	t.lock.Unlock()
}

// StepTask does nothing
func (t *JSONTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask records the time that a task is completed.
func (t *JSONTracer) EndTask(task Task) {
	t.lock.Lock()
	originalTask, ok := t.inflightTasks[task.ID]
	if !ok {
		t.lock.Unlock()
		return
	}
	originalTask.EndTime = t.timeTeller.CurrentTime()

	delete(t.inflightTasks, task.ID)
	t.lock.Unlock()

	if t.firstTask {
		t.firstTask = false
	} else {
		_, err := t.w.Write([]byte(",\n"))
		if err != nil {
			panic(err)
		}
	}

	b, err := json.Marshal(originalTask)
	if err != nil {
		panic(err)
	}

	_, err = t.w.Write(b)
	if err != nil {
		panic(err)
	}
}

func (t *JSONTracer) finish() {
	_, err := t.w.Write([]byte("\n]"))
	if err != nil {
		panic(err)
	}
}

// NewJSONTracer creates a new JSONTracer that writes to a generated file in
// the working directory.
func NewJSONTracer(timeTeller sim.TimeTeller) *JSONTracer {
	filename := xid.New().String() + ".json"
	f, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Recording tasks in %s\n", filename)

	_, err = f.Write([]byte("[\n"))
	if err != nil {
		panic(err)
	}

	t := &JSONTracer{
		timeTeller:    timeTeller,
		w:             f,
		firstTask:     true,
		inflightTasks: make(map[string]Task),
	}

	atexit.Register(t.finish)

	return t
}
