// Package memresponder provides a memory-backed responder device. The
// responder answers every request after a fixed number of cycles and has no
// limit on the number of requests it can hold in flight.
package memresponder

import (
	"github.com/sarchlab/shiba/bus"
	"github.com/sarchlab/shiba/pipelining"
	"github.com/sarchlab/shiba/sim"
)

// Comp is a memory-backed responder. Requests enter through the top port,
// spend a fixed number of cycles in an access pipeline, and leave as
// responses that echo the request tag. A control port switches the
// responder between the enable, pause, and drain states.
type Comp struct {
	*sim.TickingComponent
	sim.MiddlewareHolder

	topPort  sim.Port
	ctrlPort sim.Port

	Storage *bus.Storage
	width   int

	pipeline        pipelining.Pipeline
	postPipelineBuf sim.Buffer
	numInflight     int

	state           string
	currentDrainMsg *bus.ControlMsg
}

// Tick updates the state of the responder by one cycle.
func (c *Comp) Tick() bool {
	return c.MiddlewareHolder.Tick()
}

// TopPort returns the port that accepts requests.
func (c *Comp) TopPort() sim.Port {
	return c.topPort
}

// CtrlPort returns the port that accepts control messages.
func (c *Comp) CtrlPort() sim.Port {
	return c.ctrlPort
}

type reqPipelineItem struct {
	taskID string
	req    *bus.Request
}

func (i reqPipelineItem) TaskID() string {
	return i.taskID
}
