// Package busswitch provides an N-to-M switch for tagged request/response
// traffic. A request entering a top port is routed to a bottom port by
// address window, with its address rebased to the window. The matching
// response is routed back to the originating initiator by tag. Requests
// whose address no window claims are answered by the switch itself with a
// denial.
//
// Every in-flight transaction occupies one slot of a fixed tracking table.
// The table is the switch's only source of backpressure: when it is full,
// when a tag is still in flight, or when the target responder has not taken
// an earlier request yet, the new request simply stays at the head of its
// top port until the condition clears.
package busswitch

import (
	"fmt"

	"github.com/sarchlab/shiba/bus"
	"github.com/sarchlab/shiba/bus/busswitch/internal/tracking"
	"github.com/sarchlab/shiba/sim"
)

// HookPosResponseDropped marks when the switch discards a response that
// matches no in-flight transaction. The hook item is the dropped response
// and the detail is the responder index it came from.
var HookPosResponseDropped = &sim.HookPos{Name: "ResponseDropped"}

// A Responder describes one responder-side endpoint of the switch: the
// address window the responder claims and the remote port that serves
// requests rebased into the window.
type Responder struct {
	Window bus.AddressWindow
	Port   sim.RemotePort
}

// Comp is the switch.
type Comp struct {
	*sim.TickingComponent
	sim.MiddlewareHolder

	topPorts    []sim.Port
	bottomPorts []sim.Port

	decoder        bus.AddressDecoder
	responderPorts []sim.RemotePort
	table          *tracking.Table
	tagMask        uint64

	requestsSeen       uint64
	responsesCompleted uint64
	autoDenied         uint64
}

// Tick updates the state of the switch by one cycle.
func (c *Comp) Tick() bool {
	return c.MiddlewareHolder.Tick()
}

// TopPort returns the port that initiator i sends requests to.
func (c *Comp) TopPort(i int) sim.Port {
	return c.topPorts[i]
}

// BottomPort returns the port that faces responder i.
func (c *Comp) BottomPort(i int) sim.Port {
	return c.bottomPorts[i]
}

// NumInitiators returns the number of initiator-side ports.
func (c *Comp) NumInitiators() int {
	return len(c.topPorts)
}

// NumResponders returns the number of responder-side ports.
func (c *Comp) NumResponders() int {
	return len(c.bottomPorts)
}

// RequestsSeen returns the number of requests the switch has accepted from
// its initiators.
func (c *Comp) RequestsSeen() uint64 {
	return c.requestsSeen
}

// ResponsesCompleted returns the number of transactions fully retired,
// denials included.
func (c *Comp) ResponsesCompleted() uint64 {
	return c.responsesCompleted
}

// AutoDenied returns the number of transactions the switch answered itself
// because no window claimed their address.
func (c *Comp) AutoDenied() uint64 {
	return c.autoDenied
}

func portLabel(side string, i int) string {
	return fmt.Sprintf("%s[%d]", side, i)
}
