package busswitch

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/shiba/bus"
	"github.com/sarchlab/shiba/bus/busswitch/internal/tracking"
	"github.com/sarchlab/shiba/sim"
)

type dropRecorder struct {
	dropped []sim.HookCtx
}

func (r *dropRecorder) Func(ctx sim.HookCtx) {
	if ctx.Pos == HookPosResponseDropped {
		r.dropped = append(r.dropped, ctx)
	}
}

var _ = Describe("Switch", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *MockEngine
		top      []*MockPort
		bottom   []*MockPort
		sw       *Comp
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewMockEngine(mockCtrl)
		engine.EXPECT().CurrentTime().Return(sim.VTimeInSec(10)).AnyTimes()

		sw = MakeBuilder().
			WithEngine(engine).
			WithNumInitiators(2).
			WithResponders([]Responder{
				{
					Window: bus.AddressWindow{Base: 0x0000, SizeMask: 0x0FFF},
					Port:   "Mem0.Top",
				},
				{
					Window: bus.AddressWindow{Base: 0x1000, SizeMask: 0x0FFF},
					Port:   "Mem1.Top",
				},
			}).
			WithTrackingDepth(4).
			Build("Switch")

		top = nil
		bottom = nil
		for i := 0; i < 2; i++ {
			t := NewMockPort(mockCtrl)
			t.EXPECT().
				AsRemote().
				Return(sim.RemotePort(fmt.Sprintf("Switch.Top[%d]", i))).
				AnyTimes()
			top = append(top, t)

			b := NewMockPort(mockCtrl)
			b.EXPECT().
				AsRemote().
				Return(sim.RemotePort(fmt.Sprintf("Switch.Bottom[%d]", i))).
				AnyTimes()
			bottom = append(bottom, b)
		}
		sw.topPorts = []sim.Port{top[0], top[1]}
		sw.bottomPorts = []sim.Port{bottom[0], bottom[1]}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should do nothing when idle", func() {
		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(nil)

		madeProgress := sw.Tick()

		Expect(madeProgress).To(BeFalse())
	})

	It("should forward a request rebased to the responder's window", func() {
		req := bus.RequestBuilder{}.
			WithSrc("Init1.Port").
			WithDst("Switch.Top[1]").
			WithOpcode(bus.OpGet).
			WithSize(2).
			WithTag(1).
			WithAddress(0x1460).
			Build()

		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(req)
		bottom[1].EXPECT().
			Send(gomock.Any()).
			DoAndReturn(func(msg sim.Msg) *sim.SendError {
				fwd := msg.(*bus.Request)
				Expect(fwd.Address).To(Equal(uint64(0x0460)))
				Expect(fwd.Tag).To(Equal(bus.Tag(1)))
				Expect(fwd.Opcode).To(Equal(bus.OpGet))
				Expect(fwd.Size).To(Equal(byte(2)))
				Expect(fwd.Src).To(
					BeIdenticalTo(sim.RemotePort("Switch.Bottom[1]")))
				Expect(fwd.Dst).To(
					BeIdenticalTo(sim.RemotePort("Mem1.Top")))
				return nil
			})
		top[1].EXPECT().RetrieveIncoming().Return(req)

		madeProgress := sw.Tick()

		Expect(madeProgress).To(BeTrue())
		Expect(sw.RequestsSeen()).To(Equal(uint64(1)))

		slot := sw.table.Slot(0)
		Expect(slot.Valid).To(BeTrue())
		Expect(slot.Initiator).To(Equal(1))
		Expect(slot.Responder).To(Equal(1))
		Expect(slot.Tag).To(Equal(bus.Tag(1)))
		Expect(slot.ReqPhase).To(Equal(tracking.ReqWaitResponderAccept))
		Expect(slot.RespPhase).To(Equal(tracking.RespWaitResponderResponse))
	})

	It("should forward to different responders in the same tick", func() {
		req0 := bus.RequestBuilder{}.
			WithSrc("Init0.Port").
			WithDst("Switch.Top[0]").
			WithOpcode(bus.OpGet).
			WithTag(1).
			WithAddress(0x0010).
			Build()
		req1 := bus.RequestBuilder{}.
			WithSrc("Init1.Port").
			WithDst("Switch.Top[1]").
			WithOpcode(bus.OpGet).
			WithTag(1).
			WithAddress(0x1020).
			Build()

		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(req0)
		top[1].EXPECT().PeekIncoming().Return(req1)
		bottom[0].EXPECT().
			Send(gomock.Any()).
			DoAndReturn(func(msg sim.Msg) *sim.SendError {
				Expect(msg.(*bus.Request).Address).To(Equal(uint64(0x0010)))
				return nil
			})
		bottom[1].EXPECT().
			Send(gomock.Any()).
			DoAndReturn(func(msg sim.Msg) *sim.SendError {
				Expect(msg.(*bus.Request).Address).To(Equal(uint64(0x0020)))
				return nil
			})
		top[0].EXPECT().RetrieveIncoming().Return(req0)
		top[1].EXPECT().RetrieveIncoming().Return(req1)

		madeProgress := sw.Tick()

		Expect(madeProgress).To(BeTrue())
		Expect(sw.RequestsSeen()).To(Equal(uint64(2)))
		Expect(sw.table.Slot(0).Valid).To(BeTrue())
		Expect(sw.table.Slot(1).Valid).To(BeTrue())
	})

	It("should accept a second tag from the same initiator", func() {
		slot := sw.table.Slot(0)
		slot.Valid = true
		slot.Initiator = 0
		slot.Responder = 0
		slot.Tag = 1
		slot.ReqPhase = tracking.ReqIdle
		slot.RespPhase = tracking.RespWaitResponderResponse

		req := bus.RequestBuilder{}.
			WithSrc("Init0.Port").
			WithDst("Switch.Top[0]").
			WithOpcode(bus.OpGet).
			WithTag(2).
			WithAddress(0x0100).
			Build()

		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(req)
		top[1].EXPECT().PeekIncoming().Return(nil)
		bottom[0].EXPECT().Send(gomock.Any()).Return(nil)
		top[0].EXPECT().RetrieveIncoming().Return(req)

		madeProgress := sw.Tick()

		Expect(madeProgress).To(BeTrue())
		Expect(sw.table.Slot(1).Valid).To(BeTrue())
		Expect(sw.table.Slot(1).Tag).To(Equal(bus.Tag(2)))
	})

	It("should not accept a tag that is still in flight", func() {
		slot := sw.table.Slot(0)
		slot.Valid = true
		slot.Initiator = 0
		slot.Responder = 0
		slot.Tag = 1
		slot.ReqPhase = tracking.ReqIdle
		slot.RespPhase = tracking.RespWaitResponderResponse

		req := bus.RequestBuilder{}.
			WithSrc("Init0.Port").
			WithDst("Switch.Top[0]").
			WithOpcode(bus.OpGet).
			WithTag(1).
			WithAddress(0x0050).
			Build()

		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(req)
		top[1].EXPECT().PeekIncoming().Return(nil)

		madeProgress := sw.Tick()

		Expect(madeProgress).To(BeFalse())
		Expect(sw.RequestsSeen()).To(Equal(uint64(0)))
	})

	It("should hold a request while the responder has one in flight", func() {
		slot := sw.table.Slot(0)
		slot.Valid = true
		slot.Initiator = 0
		slot.Responder = 1
		slot.Tag = 9
		slot.ReqPhase = tracking.ReqWaitResponderAccept
		slot.RespPhase = tracking.RespWaitResponderResponse
		inFlight := bus.RequestBuilder{}.
			WithTag(9).
			Build()

		req := bus.RequestBuilder{}.
			WithSrc("Init1.Port").
			WithDst("Switch.Top[1]").
			WithOpcode(bus.OpGet).
			WithTag(2).
			WithAddress(0x1000).
			Build()

		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekOutgoing().Return(inFlight)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(req)

		madeProgress := sw.Tick()

		Expect(madeProgress).To(BeFalse())
		Expect(sw.RequestsSeen()).To(Equal(uint64(0)))
	})

	It("should withhold accept while the table is full", func() {
		for i := 0; i < sw.table.Depth(); i++ {
			slot := sw.table.Slot(i)
			slot.Valid = true
			slot.Initiator = i % 2
			slot.Responder = 0
			slot.Tag = bus.Tag(10 + i)
			slot.ReqPhase = tracking.ReqIdle
			slot.RespPhase = tracking.RespWaitResponderResponse
		}

		req := bus.RequestBuilder{}.
			WithSrc("Init0.Port").
			WithDst("Switch.Top[0]").
			WithOpcode(bus.OpGet).
			WithTag(1).
			WithAddress(0x0050).
			Build()

		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(req)
		top[1].EXPECT().PeekIncoming().Return(nil)

		madeProgress := sw.Tick()

		Expect(madeProgress).To(BeFalse())
		Expect(sw.RequestsSeen()).To(Equal(uint64(0)))
	})

	It("should mark the request accepted once the responder takes it", func() {
		slot := sw.table.Slot(0)
		slot.Valid = true
		slot.Initiator = 0
		slot.Responder = 0
		slot.Tag = 5
		slot.ReqPhase = tracking.ReqWaitResponderAccept
		slot.RespPhase = tracking.RespWaitResponderResponse

		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		bottom[0].EXPECT().PeekOutgoing().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(nil)

		madeProgress := sw.Tick()

		Expect(madeProgress).To(BeTrue())
		Expect(slot.ReqPhase).To(Equal(tracking.ReqIdle))
	})

	It("should deny an address no window claims", func() {
		req := bus.RequestBuilder{}.
			WithSrc("Init1.Port").
			WithDst("Switch.Top[1]").
			WithOpcode(bus.OpPutFull).
			WithSize(2).
			WithTag(7).
			WithAddress(0x2000).
			WithData([]byte{1, 2, 3, 4}).
			Build()

		By("accepting the request without forwarding it")
		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(req)
		top[1].EXPECT().RetrieveIncoming().Return(req)

		Expect(sw.Tick()).To(BeTrue())
		Expect(sw.RequestsSeen()).To(Equal(uint64(1)))

		slot := sw.table.Slot(0)
		Expect(slot.Valid).To(BeTrue())
		Expect(slot.Responder).To(Equal(tracking.ResponderNone))
		Expect(slot.AutoDenyPending).To(BeTrue())
		Expect(slot.RespPhase).To(Equal(tracking.RespAutoRespond))

		By("sending the denial back to the initiator")
		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(nil)
		var denial *bus.Response
		top[1].EXPECT().
			Send(gomock.Any()).
			DoAndReturn(func(msg sim.Msg) *sim.SendError {
				denial = msg.(*bus.Response)
				return nil
			})

		Expect(sw.Tick()).To(BeTrue())
		Expect(denial.Opcode).To(Equal(bus.OpError))
		Expect(denial.Denied).To(BeTrue())
		Expect(denial.Corrupt).To(BeFalse())
		Expect(denial.Data).To(BeEmpty())
		Expect(denial.Tag).To(Equal(bus.Tag(7)))
		Expect(denial.Size).To(Equal(byte(2)))
		Expect(denial.Dst).To(BeIdenticalTo(sim.RemotePort("Init1.Port")))
		Expect(denial.RspTo).To(Equal(req.ID))
		Expect(slot.RespPhase).To(Equal(tracking.RespWaitAutoAccept))

		By("waiting for the initiator to take the denial")
		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekOutgoing().Return(nil)

		Expect(sw.Tick()).To(BeTrue())
		Expect(slot.RespPhase).To(Equal(tracking.RespComplete))

		By("retiring the slot")
		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(nil)

		Expect(sw.Tick()).To(BeTrue())
		Expect(slot.Valid).To(BeFalse())
		Expect(sw.ResponsesCompleted()).To(Equal(uint64(1)))
		Expect(sw.AutoDenied()).To(Equal(uint64(1)))
	})

	It("should route a response back to the initiator by tag", func() {
		origReq := bus.RequestBuilder{}.
			WithSrc("Init0.Port").
			WithDst("Switch.Top[0]").
			WithOpcode(bus.OpGet).
			WithSize(2).
			WithTag(3).
			WithAddress(0x1040).
			Build()
		fwdReq := bus.RequestBuilder{}.
			WithSrc("Switch.Bottom[1]").
			WithDst("Mem1.Top").
			WithOpcode(bus.OpGet).
			WithSize(2).
			WithTag(3).
			WithAddress(0x0040).
			Build()

		slot := sw.table.Slot(0)
		slot.Valid = true
		slot.Initiator = 0
		slot.Responder = 1
		slot.Tag = 3
		slot.ReqPhase = tracking.ReqIdle
		slot.RespPhase = tracking.RespWaitResponderResponse
		slot.Req = origReq
		slot.FwdReq = fwdReq

		rsp := bus.ResponseBuilder{}.
			WithSrc("Mem1.Top").
			WithDst("Switch.Bottom[1]").
			WithOpcode(bus.OpAccessAckData).
			WithSize(2).
			WithTag(3).
			WithData([]byte{1, 2, 3, 4}).
			Build()

		By("delivering the response to the initiator")
		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(rsp)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(nil)
		var up *bus.Response
		top[0].EXPECT().
			Send(gomock.Any()).
			DoAndReturn(func(msg sim.Msg) *sim.SendError {
				up = msg.(*bus.Response)
				return nil
			})

		Expect(sw.Tick()).To(BeTrue())
		Expect(up.Opcode).To(Equal(bus.OpAccessAckData))
		Expect(up.Tag).To(Equal(bus.Tag(3)))
		Expect(up.Data).To(Equal([]byte{1, 2, 3, 4}))
		Expect(up.Dst).To(BeIdenticalTo(sim.RemotePort("Init0.Port")))
		Expect(up.RspTo).To(Equal(origReq.ID))
		Expect(slot.RespPhase).To(Equal(tracking.RespWaitInitiatorAccept))

		By("holding the responder's copy until the initiator takes it")
		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(rsp)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekOutgoing().Return(up)

		Expect(sw.Tick()).To(BeFalse())
		Expect(slot.RespPhase).To(Equal(tracking.RespWaitInitiatorAccept))

		By("acknowledging the responder once the initiator takes it")
		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekOutgoing().Return(nil)
		bottom[1].EXPECT().RetrieveIncoming().Return(rsp)

		Expect(sw.Tick()).To(BeTrue())
		Expect(slot.RespPhase).To(Equal(tracking.RespComplete))

		By("retiring the slot")
		bottom[0].EXPECT().PeekIncoming().Return(nil)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(nil)

		Expect(sw.Tick()).To(BeTrue())
		Expect(slot.Valid).To(BeFalse())
		Expect(sw.ResponsesCompleted()).To(Equal(uint64(1)))
		Expect(sw.AutoDenied()).To(Equal(uint64(0)))
	})

	It("should drop a response that matches no slot", func() {
		hook := &dropRecorder{}
		sw.AcceptHook(hook)

		rsp := bus.ResponseBuilder{}.
			WithSrc("Mem0.Top").
			WithDst("Switch.Bottom[0]").
			WithOpcode(bus.OpAccessAck).
			WithTag(9).
			Build()

		bottom[0].EXPECT().PeekIncoming().Return(rsp)
		bottom[0].EXPECT().RetrieveIncoming().Return(rsp)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(nil)

		madeProgress := sw.Tick()

		Expect(madeProgress).To(BeTrue())
		Expect(hook.dropped).To(HaveLen(1))
		Expect(hook.dropped[0].Item).To(BeIdenticalTo(rsp))
		Expect(hook.dropped[0].Detail).To(Equal(0))
		Expect(sw.ResponsesCompleted()).To(Equal(uint64(0)))
	})

	It("should drop a response for a request not yet accepted", func() {
		fwdReq := bus.RequestBuilder{}.
			WithSrc("Switch.Bottom[0]").
			WithDst("Mem0.Top").
			WithOpcode(bus.OpGet).
			WithTag(4).
			WithAddress(0x0040).
			Build()

		slot := sw.table.Slot(0)
		slot.Valid = true
		slot.Initiator = 0
		slot.Responder = 0
		slot.Tag = 4
		slot.ReqPhase = tracking.ReqWaitResponderAccept
		slot.RespPhase = tracking.RespWaitResponderResponse
		slot.FwdReq = fwdReq

		rsp := bus.ResponseBuilder{}.
			WithSrc("Mem0.Top").
			WithDst("Switch.Bottom[0]").
			WithOpcode(bus.OpAccessAck).
			WithTag(4).
			Build()

		bottom[0].EXPECT().PeekIncoming().Return(rsp)
		bottom[0].EXPECT().RetrieveIncoming().Return(rsp)
		bottom[0].EXPECT().PeekOutgoing().Return(fwdReq)
		bottom[1].EXPECT().PeekIncoming().Return(nil)
		top[0].EXPECT().PeekIncoming().Return(nil)
		top[1].EXPECT().PeekIncoming().Return(nil)

		madeProgress := sw.Tick()

		Expect(madeProgress).To(BeTrue())
		Expect(slot.ReqPhase).To(Equal(tracking.ReqWaitResponderAccept))
		Expect(slot.RespPhase).To(Equal(tracking.RespWaitResponderResponse))
	})

	It("should refuse a tag wider than the configured tag field", func() {
		sw2 := MakeBuilder().
			WithEngine(engine).
			WithNumInitiators(1).
			WithResponders([]Responder{
				{
					Window: bus.AddressWindow{Base: 0, SizeMask: 0xFF},
					Port:   "Mem.Top",
				},
			}).
			WithTagWidth(4).
			Build("NarrowSwitch")
		t0 := NewMockPort(mockCtrl)
		b0 := NewMockPort(mockCtrl)
		sw2.topPorts = []sim.Port{t0}
		sw2.bottomPorts = []sim.Port{b0}

		req := bus.RequestBuilder{}.
			WithSrc("Init.Port").
			WithDst("NarrowSwitch.Top[0]").
			WithOpcode(bus.OpGet).
			WithTag(0x20).
			WithAddress(0x10).
			Build()

		b0.EXPECT().PeekIncoming().Return(nil)
		t0.EXPECT().PeekIncoming().Return(req)

		Expect(func() { sw2.Tick() }).To(Panic())
	})

	It("should reject windows wider than the address field", func() {
		Expect(func() {
			MakeBuilder().
				WithEngine(engine).
				WithAddressWidth(12).
				WithResponders([]Responder{
					{
						Window: bus.AddressWindow{
							Base:     0x1000,
							SizeMask: 0xFF,
						},
						Port: "Mem.Top",
					},
				}).
				Build("BadSwitch")
		}).To(Panic())
	})

	It("should require an engine", func() {
		Expect(func() {
			MakeBuilder().
				WithResponders([]Responder{
					{
						Window: bus.AddressWindow{Base: 0, SizeMask: 0xFF},
						Port:   "Mem.Top",
					},
				}).
				Build("BadSwitch")
		}).To(Panic())
	})
})
