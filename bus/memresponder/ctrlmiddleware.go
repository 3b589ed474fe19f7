package memresponder

import (
	"github.com/sarchlab/shiba/bus"
)

type ctrlMiddleware struct {
	*Comp
}

func (m *ctrlMiddleware) Tick() (madeProgress bool) {
	madeProgress = m.completeDrain() || madeProgress
	madeProgress = m.handleIncomingCtrlMsgs() || madeProgress

	return madeProgress
}

func (m *ctrlMiddleware) handleIncomingCtrlMsgs() bool {
	item := m.ctrlPort.PeekIncoming()
	if item == nil {
		return false
	}

	ctrlMsg := item.(*bus.ControlMsg)
	m.ctrlMsgMustBeValid(ctrlMsg)

	switch {
	case ctrlMsg.Reset:
		return m.handleReset(ctrlMsg)
	case ctrlMsg.Drain:
		return m.handleDrain(ctrlMsg)
	case ctrlMsg.Enable:
		return m.setState("enable", ctrlMsg)
	default:
		return m.setState("pause", ctrlMsg)
	}
}

func (m *ctrlMiddleware) setState(state string, ctrlMsg *bus.ControlMsg) bool {
	rsp := ctrlMsg.GenerateRsp()
	if err := m.ctrlPort.Send(rsp); err != nil {
		return false
	}

	m.ctrlPort.RetrieveIncoming()
	m.state = state

	return true
}

func (m *ctrlMiddleware) handleDrain(ctrlMsg *bus.ControlMsg) bool {
	m.ctrlPort.RetrieveIncoming()
	m.state = "drain"
	m.currentDrainMsg = ctrlMsg

	return true
}

// completeDrain responds to an in-progress drain request once the last
// in-flight request has left the responder.
func (m *ctrlMiddleware) completeDrain() bool {
	if m.state != "drain" || m.currentDrainMsg == nil {
		return false
	}

	if !m.fullyDrained() {
		return false
	}

	rsp := m.currentDrainMsg.GenerateRsp()
	if err := m.ctrlPort.Send(rsp); err != nil {
		return false
	}

	m.state = "pause"
	m.currentDrainMsg = nil

	return true
}

func (m *ctrlMiddleware) fullyDrained() bool {
	return m.topPort.PeekIncoming() == nil && m.numInflight == 0
}

func (m *ctrlMiddleware) handleReset(ctrlMsg *bus.ControlMsg) bool {
	rsp := ctrlMsg.GenerateRsp()
	if err := m.ctrlPort.Send(rsp); err != nil {
		return false
	}

	m.ctrlPort.RetrieveIncoming()
	m.pipeline.Clear()
	m.postPipelineBuf.Clear()
	m.numInflight = 0
	m.currentDrainMsg = nil
	m.state = "enable"

	return true
}

func (m *ctrlMiddleware) ctrlMsgMustBeValid(ctrlMsg *bus.ControlMsg) {
	if ctrlMsg.Enable && ctrlMsg.Drain {
		panic("Enable and Drain should not be set at the same time")
	}

	if ctrlMsg.Enable && ctrlMsg.Reset {
		panic("Enable and Reset should not be set at the same time")
	}

	if ctrlMsg.Drain && ctrlMsg.Reset {
		panic("Drain and Reset should not be set at the same time")
	}
}
