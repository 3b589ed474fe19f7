package memresponder

import (
	"log"

	"github.com/sarchlab/shiba/bus"
	"github.com/sarchlab/shiba/tracing"
)

type memMiddleware struct {
	*Comp
}

func (m *memMiddleware) Tick() bool {
	if m.state == "pause" {
		return false
	}

	madeProgress := false

	madeProgress = m.respond() || madeProgress
	madeProgress = m.pipeline.Tick() || madeProgress
	madeProgress = m.takeNewReqs() || madeProgress

	return madeProgress
}

func (m *memMiddleware) takeNewReqs() (madeProgress bool) {
	if m.state != "enable" {
		return false
	}

	for i := 0; i < m.width; i++ {
		if !m.pipeline.CanAccept() {
			break
		}

		item := m.topPort.PeekIncoming()
		if item == nil {
			break
		}

		req := item.(*bus.Request)
		m.topPort.RetrieveIncoming()

		tracing.TraceReqReceive(req, m.Comp)

		m.pipeline.Accept(reqPipelineItem{
			taskID: req.ID + "_pipeline",
			req:    req,
		})
		m.numInflight++

		madeProgress = true
	}

	return madeProgress
}

func (m *memMiddleware) respond() bool {
	item := m.postPipelineBuf.Peek()
	if item == nil {
		return false
	}

	req := item.(reqPipelineItem).req

	switch req.Opcode {
	case bus.OpGet:
		return m.respondGet(req)
	case bus.OpPutFull, bus.OpPutPartial:
		return m.respondPut(req)
	default:
		log.Panicf("cannot handle request opcode %d", req.Opcode)
	}

	return false
}

func (m *memMiddleware) respondGet(req *bus.Request) bool {
	data, err := m.Storage.Read(req.Address, uint64(1)<<req.Size)
	if err != nil {
		log.Panic(err)
	}

	rsp := bus.ResponseBuilder{}.
		WithSrc(m.topPort.AsRemote()).
		WithDst(req.Src).
		WithOpcode(bus.OpAccessAckData).
		WithParam(req.Param).
		WithSize(req.Size).
		WithTag(req.Tag).
		WithData(data).
		WithRspTo(req.ID).
		Build()

	if err := m.topPort.Send(rsp); err != nil {
		return false
	}

	m.retire(req)

	return true
}

func (m *memMiddleware) respondPut(req *bus.Request) bool {
	rsp := bus.ResponseBuilder{}.
		WithSrc(m.topPort.AsRemote()).
		WithDst(req.Src).
		WithOpcode(bus.OpAccessAck).
		WithParam(req.Param).
		WithSize(req.Size).
		WithTag(req.Tag).
		WithRspTo(req.ID).
		Build()

	if err := m.topPort.Send(rsp); err != nil {
		return false
	}

	m.writeStorage(req)
	m.retire(req)

	return true
}

func (m *memMiddleware) retire(req *bus.Request) {
	m.postPipelineBuf.Pop()
	m.numInflight--

	tracing.TraceReqComplete(req, m.Comp)
}

func (m *memMiddleware) writeStorage(req *bus.Request) {
	if req.Opcode == bus.OpPutFull || req.ByteMask == nil {
		err := m.Storage.Write(req.Address, req.Data)
		if err != nil {
			log.Panic(err)
		}

		return
	}

	data, err := m.Storage.Read(req.Address, uint64(len(req.Data)))
	if err != nil {
		log.Panic(err)
	}

	for i := 0; i < len(req.Data); i++ {
		if req.ByteMask[i] {
			data[i] = req.Data[i]
		}
	}

	err = m.Storage.Write(req.Address, data)
	if err != nil {
		log.Panic(err)
	}
}
