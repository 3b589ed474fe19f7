package memresponder

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/shiba/bus"
	"github.com/sarchlab/shiba/sim"
)

var _ = Describe("Ctrl Middleware", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *MockEngine
		topPort  *MockPort
		ctrlPort *MockPort
		comp     *Comp
		ctrlMW   *ctrlMiddleware
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewMockEngine(mockCtrl)

		topPort = NewMockPort(mockCtrl)
		ctrlPort = NewMockPort(mockCtrl)
		ctrlPort.EXPECT().
			AsRemote().
			Return(sim.RemotePort("MemResponder.CtrlPort")).
			AnyTimes()

		comp = MakeBuilder().
			WithEngine(engine).
			WithNewStorage(1 * bus.MB).
			Build("MemResponder")
		comp.topPort = topPort
		comp.ctrlPort = ctrlPort

		ctrlMW = &ctrlMiddleware{Comp: comp}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should do nothing when there is no control message", func() {
		ctrlPort.EXPECT().PeekIncoming().Return(nil)

		madeProgress := ctrlMW.Tick()

		Expect(madeProgress).To(BeFalse())
	})

	It("should pause when asked to", func() {
		msg := bus.ControlMsgBuilder{}.
			WithSrc("Driver.Port").
			WithDst(ctrlPort.AsRemote()).
			Build()

		ctrlPort.EXPECT().PeekIncoming().Return(msg)
		ctrlPort.EXPECT().RetrieveIncoming().Return(msg)
		var rsp sim.Msg
		ctrlPort.EXPECT().
			Send(gomock.Any()).
			DoAndReturn(func(m sim.Msg) *sim.SendError {
				rsp = m
				return nil
			})

		madeProgress := ctrlMW.Tick()

		Expect(madeProgress).To(BeTrue())
		Expect(comp.state).To(Equal("pause"))
		Expect(rsp.Meta().Dst).To(BeIdenticalTo(sim.RemotePort("Driver.Port")))
	})

	It("should enable when asked to", func() {
		comp.state = "pause"

		msg := bus.ControlMsgBuilder{}.
			WithSrc("Driver.Port").
			WithDst(ctrlPort.AsRemote()).
			WithEnable(true).
			Build()

		ctrlPort.EXPECT().PeekIncoming().Return(msg)
		ctrlPort.EXPECT().RetrieveIncoming().Return(msg)
		ctrlPort.EXPECT().Send(gomock.Any()).Return(nil)

		madeProgress := ctrlMW.Tick()

		Expect(madeProgress).To(BeTrue())
		Expect(comp.state).To(Equal("enable"))
	})

	It("should keep its state when the response cannot be sent", func() {
		msg := bus.ControlMsgBuilder{}.
			WithSrc("Driver.Port").
			WithDst(ctrlPort.AsRemote()).
			Build()

		ctrlPort.EXPECT().PeekIncoming().Return(msg)
		ctrlPort.EXPECT().Send(gomock.Any()).Return(sim.NewSendError())

		madeProgress := ctrlMW.Tick()

		Expect(madeProgress).To(BeFalse())
		Expect(comp.state).To(Equal("enable"))
	})

	It("should respond to a drain once all requests are done", func() {
		msg := bus.ControlMsgBuilder{}.
			WithSrc("Driver.Port").
			WithDst(ctrlPort.AsRemote()).
			WithDrain(true).
			Build()

		By("entering the drain state")
		ctrlPort.EXPECT().PeekIncoming().Return(msg)
		ctrlPort.EXPECT().RetrieveIncoming().Return(msg)

		Expect(ctrlMW.Tick()).To(BeTrue())
		Expect(comp.state).To(Equal("drain"))
		Expect(comp.currentDrainMsg).To(BeIdenticalTo(msg))

		By("waiting for the in-flight request")
		comp.numInflight = 1
		topPort.EXPECT().PeekIncoming().Return(nil)
		ctrlPort.EXPECT().PeekIncoming().Return(nil)

		Expect(ctrlMW.Tick()).To(BeFalse())
		Expect(comp.state).To(Equal("drain"))

		By("pausing once drained")
		comp.numInflight = 0
		topPort.EXPECT().PeekIncoming().Return(nil)
		ctrlPort.EXPECT().PeekIncoming().Return(nil)
		var rsp sim.Msg
		ctrlPort.EXPECT().
			Send(gomock.Any()).
			DoAndReturn(func(m sim.Msg) *sim.SendError {
				rsp = m
				return nil
			})

		Expect(ctrlMW.Tick()).To(BeTrue())
		Expect(comp.state).To(Equal("pause"))
		Expect(comp.currentDrainMsg).To(BeNil())
		Expect(rsp.Meta().Dst).To(BeIdenticalTo(sim.RemotePort("Driver.Port")))
	})

	It("should not finish draining while a request waits at the top port", func() {
		msg := bus.ControlMsgBuilder{}.
			WithSrc("Driver.Port").
			WithDst(ctrlPort.AsRemote()).
			WithDrain(true).
			Build()
		comp.state = "drain"
		comp.currentDrainMsg = msg

		req := bus.RequestBuilder{}.
			WithSrc("Agent.Port").
			WithDst("MemResponder.TopPort").
			WithOpcode(bus.OpGet).
			WithTag(1).
			Build()

		topPort.EXPECT().PeekIncoming().Return(req)
		ctrlPort.EXPECT().PeekIncoming().Return(nil)

		Expect(ctrlMW.Tick()).To(BeFalse())
		Expect(comp.state).To(Equal("drain"))
	})

	It("should reset and re-enable", func() {
		comp.state = "drain"
		comp.numInflight = 3

		msg := bus.ControlMsgBuilder{}.
			WithSrc("Driver.Port").
			WithDst(ctrlPort.AsRemote()).
			WithReset(true).
			Build()

		ctrlPort.EXPECT().PeekIncoming().Return(msg)
		ctrlPort.EXPECT().RetrieveIncoming().Return(msg)
		ctrlPort.EXPECT().Send(gomock.Any()).Return(nil)

		madeProgress := ctrlMW.Tick()

		Expect(madeProgress).To(BeTrue())
		Expect(comp.state).To(Equal("enable"))
		Expect(comp.numInflight).To(Equal(0))
	})

	It("should refuse enable and drain together", func() {
		msg := bus.ControlMsgBuilder{}.
			WithSrc("Driver.Port").
			WithDst(ctrlPort.AsRemote()).
			WithEnable(true).
			WithDrain(true).
			Build()

		ctrlPort.EXPECT().PeekIncoming().Return(msg)

		Expect(func() { ctrlMW.Tick() }).To(Panic())
	})
})
