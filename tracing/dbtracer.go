package tracing

import (
	"sync"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/shiba/datarecording"
	"github.com/sarchlab/shiba/sim"
)

type taskTableEntry struct {
	ID        string  `json:"id" shiba_data:"index"`
	ParentID  string  `json:"parent_id" shiba_data:"index"`
	Kind      string  `json:"kind" shiba_data:"index"`
	What      string  `json:"what" shiba_data:"index"`
	Location  string  `json:"location" shiba_data:"index"`
	StartTime float64 `json:"start_time" shiba_data:"index"`
	EndTime   float64 `json:"end_time" shiba_data:"index"`
}

type milestoneTableEntry struct {
	ID       string  `json:"id" shiba_data:"index"`
	TaskID   string  `json:"task_id" shiba_data:"index"`
	Kind     string  `json:"kind"`
	What     string  `json:"what"`
	Location string  `json:"location"`
	Time     float64 `json:"time" shiba_data:"index"`
}

// DBTracer is a tracer that can store tasks into a database. DBTracers can
// connect with different backends so that the tasks can be stored in
// different types of databases (e.g., SQLite or ClickHouse).
type DBTracer struct {
	mu         sync.Mutex
	timeTeller sim.TimeTeller
	backend    datarecording.DataRecorder

	startTime, endTime sim.VTimeInSec

	tracingTasks map[string]Task
}

// NewDBTracer creates a new DBTracer.
func NewDBTracer(
	timeTeller sim.TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable("trace", taskTableEntry{})
	dataRecorder.CreateTable("trace_milestones", milestoneTableEntry{})

	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tracingTasks: make(map[string]Task),
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// SetTimeRange sets the time range of the tracer. Only tasks that overlap
// with the range are recorded.
func (t *DBTracer) SetTimeRange(startTime, endTime sim.VTimeInSec) {
	t.startTime = startTime
	t.endTime = endTime
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startingTaskMustBeValid(task)

	task.StartTime = t.timeTeller.CurrentTime()
	if t.endTime > 0 && task.StartTime > t.endTime {
		return
	}

	t.tracingTasks[task.ID] = task
}

func (t *DBTracer) startingTaskMustBeValid(task Task) {
	if task.ID == "" {
		panic("task ID must be set")
	}

	if task.Kind == "" {
		panic("task kind must be set")
	}

	if task.What == "" {
		panic("task what must be set")
	}

	if task.Location == "" {
		panic("task location must be set")
	}
}

// StepTask marks a step of a task.
func (t *DBTracer) StepTask(_ Task) {
	// Do nothing for now.
}

// AddMilestone attaches a milestone to its task. Only the first milestone
// at a given time is kept for each task.
func (t *DBTracer) AddMilestone(milestone Milestone) {
	t.mu.Lock()
	defer t.mu.Unlock()

	milestone.Time = t.timeTeller.CurrentTime()

	task := t.tracingTasks[milestone.TaskID]
	for _, m := range task.Milestones {
		if m.Time == milestone.Time {
			return
		}
	}

	task.Milestones = append(task.Milestones, milestone)
	t.tracingTasks[milestone.TaskID] = task
}

// EndTask marks the end of a task and writes it to the backend.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task.EndTime = t.timeTeller.CurrentTime()

	if t.startTime > 0 && task.EndTime < t.startTime {
		delete(t.tracingTasks, task.ID)
		return
	}

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	originalTask.EndTime = task.EndTime
	t.writeTask(originalTask)

	delete(t.tracingTasks, task.ID)
}

func (t *DBTracer) writeTask(task Task) {
	t.backend.InsertData("trace", taskTableEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Location:  task.Location,
		StartTime: float64(task.StartTime),
		EndTime:   float64(task.EndTime),
	})

	for _, m := range task.Milestones {
		t.backend.InsertData("trace_milestones", milestoneTableEntry{
			ID:       m.ID,
			TaskID:   m.TaskID,
			Kind:     string(m.Kind),
			What:     m.What,
			Location: m.Location,
			Time:     float64(m.Time),
		})
	}
}

// Terminate terminates the tracer.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tracingTasks = nil
	t.backend.Flush()
}
