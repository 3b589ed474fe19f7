// Package tracking provides the fixed pool of slots a switch uses to follow
// its in-flight transactions.
package tracking

import "github.com/sarchlab/shiba/bus"

// ReqPhase is the request-forwarding half of a slot's state.
type ReqPhase int

// A slot rests in ReqIdle. It holds ReqWaitResponderAccept from the moment
// a rewritten request is offered to a responder until the responder takes
// it.
const (
	ReqIdle ReqPhase = iota
	ReqWaitResponderAccept
)

// RespPhase is the response-delivery half of a slot's state.
type RespPhase int

// A slot rests in RespWaitResponderResponse. Transactions bound for a real
// responder move through RespWaitInitiatorAccept once the matching response
// arrives. Transactions whose address missed every window move through
// RespAutoRespond and RespWaitAutoAccept instead, with the switch acting as
// the responder. Both paths end in RespComplete, which releases the slot.
const (
	RespWaitResponderResponse RespPhase = iota
	RespAutoRespond
	RespWaitAutoAccept
	RespWaitInitiatorAccept
	RespComplete
)

// ResponderNone marks a slot whose address missed every window. No
// responder connection is involved. The switch answers the slot itself
// with a denial.
const ResponderNone = -1

// A Slot follows one transaction from the moment the switch accepts the
// request until the initiator accepts the response.
type Slot struct {
	Valid           bool
	Initiator       int
	Responder       int
	Tag             bus.Tag
	AutoDenyPending bool
	ReqPhase        ReqPhase
	RespPhase       RespPhase

	// Req is the original request as accepted from the initiator. It is
	// kept so the denial path can echo the request's size and so tracing
	// can refer back to the request's ID.
	Req *bus.Request

	// FwdReq is the rewritten request offered to the responder, nil on the
	// denial path.
	FwdReq *bus.Request
}

// A Table is a fixed pool of transaction slots. Slots are reused in place.
// Nothing is allocated per transaction.
type Table struct {
	slots []Slot
}

// NewTable creates a Table with the given number of slots.
func NewTable(depth int) *Table {
	return &Table{
		slots: make([]Slot, depth),
	}
}

// Depth returns the number of slots in the table.
func (t *Table) Depth() int {
	return len(t.slots)
}

// Slot returns the i-th slot. The pointer stays valid for the lifetime of
// the table.
func (t *Table) Slot(i int) *Slot {
	return &t.slots[i]
}

// FindByInitiatorTag returns the occupied slot that follows the transaction
// the given initiator opened with the given tag, or nil if there is none.
func (t *Table) FindByInitiatorTag(initiator int, tag bus.Tag) *Slot {
	for i := range t.slots {
		s := &t.slots[i]
		if s.Valid && s.Initiator == initiator && s.Tag == tag {
			return s
		}
	}

	return nil
}

// FindByResponderTag returns the occupied slot whose request was routed to
// the given responder with the given tag, or nil if there is none. Slots
// on the denial path carry ResponderNone and never match.
func (t *Table) FindByResponderTag(responder int, tag bus.Tag) *Slot {
	for i := range t.slots {
		s := &t.slots[i]
		if s.Valid && s.Responder == responder && s.Tag == tag {
			return s
		}
	}

	return nil
}

// FindAwaitingResponder returns the slot whose rewritten request the given
// responder has not accepted yet, or nil if there is none. At most one such
// slot exists per responder.
func (t *Table) FindAwaitingResponder(responder int) *Slot {
	for i := range t.slots {
		s := &t.slots[i]
		if s.Valid && s.Responder == responder &&
			s.ReqPhase == ReqWaitResponderAccept {
			return s
		}
	}

	return nil
}

// FirstFree returns the lowest-indexed free slot, or nil when the table is
// full.
func (t *Table) FirstFree() *Slot {
	for i := range t.slots {
		if !t.slots[i].Valid {
			return &t.slots[i]
		}
	}

	return nil
}

// Reset returns every slot to the free state.
func (t *Table) Reset() {
	for i := range t.slots {
		t.slots[i] = Slot{}
	}
}
