package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"
)

var _ = Describe("Tick Scheduler", func() {
	var (
		mockCtrl  *gomock.Controller
		engine    *MockEngine
		handler   *MockHandler
		scheduler *TickScheduler
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewMockEngine(mockCtrl)
		handler = NewMockHandler(mockCtrl)
		scheduler = NewTickScheduler(handler, engine, 1*GHz)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should schedule a tick at the current tick time", func() {
		engine.EXPECT().CurrentTime().Return(VTimeInSec(10.5e-9))
		engine.EXPECT().Schedule(gomock.Any()).Do(func(e Event) {
			Expect(float64(e.Time())).To(BeNumerically("~", 11e-9, 1e-12))
			Expect(e.IsSecondary()).To(BeFalse())
		})

		scheduler.TickNow()
	})

	It("should not schedule the same tick twice", func() {
		engine.EXPECT().CurrentTime().Return(VTimeInSec(10.5e-9)).Times(2)
		engine.EXPECT().Schedule(gomock.Any())

		scheduler.TickNow()
		scheduler.TickNow()
	})

	It("should schedule a tick at the next tick time", func() {
		engine.EXPECT().CurrentTime().Return(VTimeInSec(10e-9))
		engine.EXPECT().Schedule(gomock.Any()).Do(func(e Event) {
			Expect(float64(e.Time())).To(BeNumerically("~", 11e-9, 1e-12))
		})

		scheduler.TickLater()
	})

	It("should schedule secondary ticks when created as secondary", func() {
		scheduler = NewSecondaryTickScheduler(handler, engine, 1*GHz)

		engine.EXPECT().CurrentTime().Return(VTimeInSec(10.5e-9))
		engine.EXPECT().Schedule(gomock.Any()).Do(func(e Event) {
			Expect(e.IsSecondary()).To(BeTrue())
		})

		scheduler.TickNow()
	})
})

var _ = Describe("Ticking Component", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *MockEngine
		ticker   *MockTicker
		comp     *TickingComponent
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewMockEngine(mockCtrl)
		ticker = NewMockTicker(mockCtrl)
		comp = NewTickingComponent("Comp", engine, 1*GHz, ticker)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should tick again when progress was made", func() {
		tickEvent := MakeTickEvent(comp, 10e-9)

		ticker.EXPECT().Tick().Return(true)
		engine.EXPECT().CurrentTime().Return(VTimeInSec(10e-9))
		engine.EXPECT().Schedule(gomock.Any()).Do(func(e Event) {
			Expect(float64(e.Time())).To(BeNumerically("~", 11e-9, 1e-12))
		})

		Expect(comp.Handle(tickEvent)).To(Succeed())
	})

	It("should stop ticking when no progress was made", func() {
		tickEvent := MakeTickEvent(comp, 10e-9)

		ticker.EXPECT().Tick().Return(false)

		Expect(comp.Handle(tickEvent)).To(Succeed())
	})

	It("should restart ticking when a message arrives", func() {
		engine.EXPECT().CurrentTime().Return(VTimeInSec(10e-9))
		engine.EXPECT().Schedule(gomock.Any())

		comp.NotifyRecv(nil)
	})

	It("should restart ticking when a port frees up", func() {
		engine.EXPECT().CurrentTime().Return(VTimeInSec(10e-9))
		engine.EXPECT().Schedule(gomock.Any())

		comp.NotifyPortFree(nil)
	})
})
