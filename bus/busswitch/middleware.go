package busswitch

import (
	"log"
	"reflect"

	"github.com/sarchlab/shiba/bus"
	"github.com/sarchlab/shiba/bus/busswitch/internal/tracking"
	"github.com/sarchlab/shiba/sim"
	"github.com/sarchlab/shiba/tracing"
)

type middleware struct {
	*Comp
}

// Tick runs the routing passes, response side first. A slot retired in a
// tick is allocatable again in the same tick. Outgoing port buffers hold at
// most one message, so an empty outgoing buffer means the peer has taken
// the message offered to it.
func (m *middleware) Tick() bool {
	madeProgress := false

	madeProgress = m.retireCompletedSlots() || madeProgress
	madeProgress = m.completeResponseDeliveries() || madeProgress
	madeProgress = m.forwardResponses() || madeProgress
	madeProgress = m.issueDenials() || madeProgress
	madeProgress = m.observeResponderAccepts() || madeProgress
	madeProgress = m.admitRequests() || madeProgress

	return madeProgress
}

// retireCompletedSlots frees every slot whose response has been taken by
// its initiator and bumps the counters, once per retired transaction.
func (m *middleware) retireCompletedSlots() bool {
	madeProgress := false

	for i := 0; i < m.table.Depth(); i++ {
		s := m.table.Slot(i)
		if !s.Valid || s.RespPhase != tracking.RespComplete {
			continue
		}

		m.responsesCompleted++
		if s.AutoDenyPending {
			m.autoDenied++
		}

		tracing.TraceReqComplete(s.Req, m.Comp)

		*s = tracking.Slot{}
		madeProgress = true
	}

	return madeProgress
}

// completeResponseDeliveries advances every slot whose response has left
// the top port, which is the moment the initiator accepted it. For
// responses that came from a real responder, the responder's copy is only
// consumed here, acknowledging it.
func (m *middleware) completeResponseDeliveries() bool {
	madeProgress := false

	for i := 0; i < m.table.Depth(); i++ {
		s := m.table.Slot(i)
		if !s.Valid {
			continue
		}

		switch s.RespPhase {
		case tracking.RespWaitInitiatorAccept:
			if m.topPorts[s.Initiator].PeekOutgoing() != nil {
				continue
			}

			if m.bottomPorts[s.Responder].RetrieveIncoming() == nil {
				log.Panicf("%s: no response to acknowledge for responder %d",
					m.Name(), s.Responder)
			}

			s.RespPhase = tracking.RespComplete
			madeProgress = true
		case tracking.RespWaitAutoAccept:
			if m.topPorts[s.Initiator].PeekOutgoing() != nil {
				continue
			}

			s.RespPhase = tracking.RespComplete
			madeProgress = true
		}
	}

	return madeProgress
}

func (m *middleware) forwardResponses() bool {
	madeProgress := false

	for r := range m.bottomPorts {
		madeProgress = m.forwardResponse(r) || madeProgress
	}

	return madeProgress
}

// forwardResponse matches the response at the head of responder r's port
// against the tracking table by tag. A matched response is offered to the
// originating initiator. A response that matches no slot, or a slot that is
// not waiting for it, is a protocol anomaly and is dropped.
func (m *middleware) forwardResponse(r int) bool {
	item := m.bottomPorts[r].PeekIncoming()
	if item == nil {
		return false
	}

	rsp, ok := item.(*bus.Response)
	if !ok {
		log.Panicf("cannot handle response of type %s", reflect.TypeOf(item))
	}

	slot := m.table.FindByResponderTag(r, rsp.Tag)
	if slot == nil {
		return m.dropResponse(r, rsp)
	}

	switch {
	case slot.RespPhase == tracking.RespWaitResponderResponse &&
		slot.ReqPhase == tracking.ReqIdle:
		return m.deliverResponse(slot, rsp)
	case slot.RespPhase == tracking.RespWaitInitiatorAccept:
		// The head is the very response being delivered. It stays put
		// until the initiator accepts and the delivery pass consumes it.
		return false
	default:
		return m.dropResponse(r, rsp)
	}
}

func (m *middleware) deliverResponse(
	slot *tracking.Slot,
	rsp *bus.Response,
) bool {
	rspToTop := bus.ResponseBuilder{}.
		WithSrc(m.topPorts[slot.Initiator].AsRemote()).
		WithDst(slot.Req.Src).
		WithOpcode(rsp.Opcode).
		WithParam(rsp.Param).
		WithSize(rsp.Size).
		WithTag(rsp.Tag).
		WithData(rsp.Data).
		WithRspTo(slot.Req.ID).
		Build()
	rspToTop.Corrupt = rsp.Corrupt
	rspToTop.Denied = rsp.Denied

	err := m.topPorts[slot.Initiator].Send(rspToTop)
	if err != nil {
		return false
	}

	tracing.TraceReqFinalize(slot.FwdReq, m.Comp)

	slot.RespPhase = tracking.RespWaitInitiatorAccept

	return true
}

func (m *middleware) dropResponse(r int, rsp *bus.Response) bool {
	m.bottomPorts[r].RetrieveIncoming()

	if m.NumHooks() > 0 {
		m.InvokeHook(sim.HookCtx{
			Domain: m.Comp,
			Pos:    HookPosResponseDropped,
			Item:   rsp,
			Detail: r,
		})
	}

	return true
}

// issueDenials synthesizes the response for every slot on the denial path:
// denied set, corrupt clear, no data, the canonical error opcode, and the
// tag the request carried.
func (m *middleware) issueDenials() bool {
	madeProgress := false

	for i := 0; i < m.table.Depth(); i++ {
		s := m.table.Slot(i)
		if !s.Valid || s.RespPhase != tracking.RespAutoRespond {
			continue
		}

		denial := bus.ResponseBuilder{}.
			WithSrc(m.topPorts[s.Initiator].AsRemote()).
			WithDst(s.Req.Src).
			WithOpcode(bus.OpError).
			WithParam(s.Req.Param).
			WithSize(s.Req.Size).
			WithTag(s.Tag).
			WithRspTo(s.Req.ID).
			AsDenied().
			Build()

		err := m.topPorts[s.Initiator].Send(denial)
		if err != nil {
			continue
		}

		s.RespPhase = tracking.RespWaitAutoAccept
		madeProgress = true
	}

	return madeProgress
}

// observeResponderAccepts returns a slot's request phase to idle once the
// rewritten request has left the bottom port, which is the moment the
// responder accepted it.
func (m *middleware) observeResponderAccepts() bool {
	madeProgress := false

	for i := 0; i < m.table.Depth(); i++ {
		s := m.table.Slot(i)
		if !s.Valid || s.ReqPhase != tracking.ReqWaitResponderAccept {
			continue
		}

		if m.bottomPorts[s.Responder].PeekOutgoing() != nil {
			continue
		}

		s.ReqPhase = tracking.ReqIdle
		madeProgress = true
	}

	return madeProgress
}

func (m *middleware) admitRequests() bool {
	madeProgress := false

	for i := range m.topPorts {
		madeProgress = m.admitRequest(i) || madeProgress
	}

	return madeProgress
}

// admitRequest examines the request at the head of initiator i's port. The
// request is taken only if its tag is not already in flight from the same
// initiator, a tracking slot is free, and the target responder can be
// offered the rewritten request this tick. Otherwise the request stays at
// the head and is re-evaluated next tick.
func (m *middleware) admitRequest(i int) bool {
	item := m.topPorts[i].PeekIncoming()
	if item == nil {
		return false
	}

	req, ok := item.(*bus.Request)
	if !ok {
		log.Panicf("cannot handle request of type %s", reflect.TypeOf(item))
	}

	if uint64(req.Tag)&^m.tagMask != 0 {
		log.Panicf("tag 0x%x does not fit the switch's tag field",
			uint64(req.Tag))
	}

	if m.table.FindByInitiatorTag(i, req.Tag) != nil {
		return false
	}

	slot := m.table.FirstFree()
	if slot == nil {
		return false
	}

	responder, rebased, ok := m.decoder.Decode(req.Address)
	if !ok {
		return m.acceptForDenial(i, slot, req)
	}

	return m.forwardRequest(i, slot, req, responder, rebased)
}

// acceptForDenial takes a request whose address missed every window. No
// responder is involved. The slot goes straight to the denial path.
func (m *middleware) acceptForDenial(
	i int,
	slot *tracking.Slot,
	req *bus.Request,
) bool {
	m.topPorts[i].RetrieveIncoming()
	tracing.TraceReqReceive(req, m.Comp)

	slot.Valid = true
	slot.Initiator = i
	slot.Responder = tracking.ResponderNone
	slot.Tag = req.Tag
	slot.AutoDenyPending = true
	slot.ReqPhase = tracking.ReqIdle
	slot.RespPhase = tracking.RespAutoRespond
	slot.Req = req
	slot.FwdReq = nil

	m.requestsSeen++

	return true
}

// forwardRequest offers a copy of the request, with the address rebased to
// the target window, to the decoded responder. The original request fields
// pass through otherwise unchanged, the tag included.
func (m *middleware) forwardRequest(
	i int,
	slot *tracking.Slot,
	req *bus.Request,
	responder int,
	rebased uint64,
) bool {
	if m.table.FindAwaitingResponder(responder) != nil {
		return false
	}

	fwd := bus.RequestBuilder{}.
		WithSrc(m.bottomPorts[responder].AsRemote()).
		WithDst(m.responderPorts[responder]).
		WithOpcode(req.Opcode).
		WithParam(req.Param).
		WithSize(req.Size).
		WithTag(req.Tag).
		WithAddress(rebased).
		WithData(req.Data).
		WithByteMask(req.ByteMask).
		Build()

	err := m.bottomPorts[responder].Send(fwd)
	if err != nil {
		return false
	}

	m.topPorts[i].RetrieveIncoming()
	tracing.TraceReqReceive(req, m.Comp)
	tracing.TraceReqInitiate(fwd, m.Comp, tracing.MsgIDAtReceiver(req, m.Comp))

	slot.Valid = true
	slot.Initiator = i
	slot.Responder = responder
	slot.Tag = req.Tag
	slot.AutoDenyPending = false
	slot.ReqPhase = tracking.ReqWaitResponderAccept
	slot.RespPhase = tracking.RespWaitResponderResponse
	slot.Req = req
	slot.FwdReq = fwd

	m.requestsSeen++

	return true
}
