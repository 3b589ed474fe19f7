// Package trace provides tracers that can record bus transactions.
package trace

import (
	"log"

	"github.com/sarchlab/shiba/bus"
	"github.com/sarchlab/shiba/datarecording"
	"github.com/sarchlab/shiba/sim"
	"github.com/sarchlab/shiba/tracing"
)

// busTransactionEntry represents a bus transaction in the database
type busTransactionEntry struct {
	ID        string  `json:"id" shiba_data:"unique"`
	Location  string  `json:"location" shiba_data:"index"`
	Opcode    string  `json:"opcode" shiba_data:"index"`
	StartTime float64 `json:"start_time" shiba_data:"index"`
	EndTime   float64 `json:"end_time" shiba_data:"index"`
	Address   uint64  `json:"address" shiba_data:"index"`
	Tag       uint64  `json:"tag" shiba_data:"index"`
	ByteSize  uint64  `json:"byte_size" shiba_data:"index"`
}

// busStepEntry represents a milestone of a bus transaction in the database
type busStepEntry struct {
	ID     string  `json:"id" shiba_data:"unique"`
	TaskID string  `json:"task_id" shiba_data:"index"`
	Time   float64 `json:"time" shiba_data:"index"`
	What   string  `json:"what" shiba_data:"index"`
}

// A tracer is a hook that can record the requests handled by a bus
// component into a log.
type tracer struct {
	timeTeller sim.TimeTeller
	logger     *log.Logger
}

// A dbTracer is a hook that can record the requests handled by a bus
// component into a database using the data recorder.
type dbTracer struct {
	timeTeller          sim.TimeTeller
	dataRecorder        datarecording.DataRecorder
	pendingTransactions map[string]*busTransactionEntry
}

// NewTracer creates a new tracer that writes bus transactions into a
// logger.
func NewTracer(logger *log.Logger, timeTeller sim.TimeTeller) tracing.Tracer {
	t := new(tracer)
	t.logger = logger
	t.timeTeller = timeTeller

	return t
}

// NewDBTracer creates a new tracer that records bus transactions with a
// data recorder.
func NewDBTracer(
	dataRecorder datarecording.DataRecorder,
	timeTeller sim.TimeTeller,
) tracing.Tracer {
	t := &dbTracer{
		timeTeller:          timeTeller,
		dataRecorder:        dataRecorder,
		pendingTransactions: make(map[string]*busTransactionEntry),
	}

	t.dataRecorder.CreateTable("bus_transactions", busTransactionEntry{})
	t.dataRecorder.CreateTable("bus_steps", busStepEntry{})

	return t
}

// StartTask marks the start of a bus transaction
func (t *tracer) StartTask(task tracing.Task) {
	task.StartTime = t.timeTeller.CurrentTime()

	req, ok := task.Detail.(*bus.Request)
	if !ok {
		return
	}

	t.logger.Printf(
		"start, %.12f, %s, %s, %s, 0x%x, %d, %d\n",
		task.StartTime,
		task.Location,
		task.ID,
		req.Opcode,
		req.Address,
		req.Tag,
		uint64(1)<<req.Size,
	)
}

// StepTask marks that a milestone of a bus transaction has been reached
func (t *tracer) StepTask(task tracing.Task) {
	if len(task.Steps) == 0 {
		return
	}

	step := task.Steps[0]
	step.Time = t.timeTeller.CurrentTime()

	t.logger.Printf("step, %.12f, %s, %s\n",
		step.Time,
		task.ID,
		step.What)
}

// EndTask marks the end of a bus transaction
func (t *tracer) EndTask(task tracing.Task) {
	task.EndTime = t.timeTeller.CurrentTime()

	t.logger.Printf("end, %.12f, %s\n", task.EndTime, task.ID)
}

// StartTask marks the start of a bus transaction
func (t *dbTracer) StartTask(task tracing.Task) {
	task.StartTime = t.timeTeller.CurrentTime()

	req, ok := task.Detail.(*bus.Request)
	if !ok {
		return
	}

	entry := &busTransactionEntry{
		ID:        task.ID,
		Location:  task.Location,
		Opcode:    req.Opcode.String(),
		StartTime: float64(task.StartTime),
		Address:   req.Address,
		Tag:       uint64(req.Tag),
		ByteSize:  uint64(1) << req.Size,
	}

	t.pendingTransactions[task.ID] = entry
}

// StepTask records a milestone of a bus transaction
func (t *dbTracer) StepTask(task tracing.Task) {
	if len(task.Steps) == 0 {
		return
	}

	step := task.Steps[0]
	entry := busStepEntry{
		ID:     task.ID + "_step_" + step.What,
		TaskID: task.ID,
		Time:   float64(t.timeTeller.CurrentTime()),
		What:   step.What,
	}

	t.dataRecorder.InsertData("bus_steps", entry)
}

// EndTask marks the end of a bus transaction
func (t *dbTracer) EndTask(task tracing.Task) {
	entry, exists := t.pendingTransactions[task.ID]
	if !exists {
		return
	}

	if task.EndTime == 0 {
		task.EndTime = t.timeTeller.CurrentTime()
	}

	entry.EndTime = float64(task.EndTime)
	t.dataRecorder.InsertData("bus_transactions", *entry)

	delete(t.pendingTransactions, task.ID)
}
