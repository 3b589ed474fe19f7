package sim

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gmeasure"
	gomock "go.uber.org/mock/gomock"
)

type countingHandler struct {
	count int
}

func (h *countingHandler) Handle(_ Event) error {
	h.count++
	return nil
}

type recordingEndHandler struct {
	now    VTimeInSec
	called bool
}

func (h *recordingEndHandler) Handle(now VTimeInSec) {
	h.now = now
	h.called = true
}

var _ = Describe("Serial Engine", func() {
	var (
		mockCtrl *gomock.Controller
		handler  *MockHandler
		engine   *SerialEngine
	)

	newEvent := func(t VTimeInSec, secondary bool) *MockEvent {
		evt := NewMockEvent(mockCtrl)
		evt.EXPECT().Time().Return(t).AnyTimes()
		evt.EXPECT().IsSecondary().Return(secondary).AnyTimes()
		evt.EXPECT().Handler().Return(handler).AnyTimes()
		return evt
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		handler = NewMockHandler(mockCtrl)
		engine = NewSerialEngine()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should run events in time order", func() {
		evt1 := newEvent(2.0, false)
		evt2 := newEvent(1.0, false)

		gomock.InOrder(
			handler.EXPECT().Handle(evt2).Return(nil),
			handler.EXPECT().Handle(evt1).Return(nil),
		)

		engine.Schedule(evt1)
		engine.Schedule(evt2)

		Expect(engine.Run()).To(Succeed())
		Expect(float64(engine.CurrentTime())).To(BeNumerically("~", 2.0, 1e-12))
	})

	It("should run primary events before secondary events at the same time",
		func() {
			secondaryEvt := newEvent(1.0, true)
			primaryEvt := newEvent(1.0, false)

			gomock.InOrder(
				handler.EXPECT().Handle(primaryEvt).Return(nil),
				handler.EXPECT().Handle(secondaryEvt).Return(nil),
			)

			engine.Schedule(secondaryEvt)
			engine.Schedule(primaryEvt)

			Expect(engine.Run()).To(Succeed())
		})

	It("should allow events to schedule new events", func() {
		evt1 := newEvent(1.0, false)
		evt2 := newEvent(2.0, false)

		handler.EXPECT().Handle(evt1).DoAndReturn(func(_ Event) error {
			engine.Schedule(evt2)
			return nil
		})
		handler.EXPECT().Handle(evt2).Return(nil)

		engine.Schedule(evt1)

		Expect(engine.Run()).To(Succeed())
		Expect(float64(engine.CurrentTime())).To(BeNumerically("~", 2.0, 1e-12))
	})

	It("should panic when scheduling an event in the past", func() {
		evt1 := newEvent(2.0, false)
		handler.EXPECT().Handle(evt1).Return(nil)

		engine.Schedule(evt1)
		Expect(engine.Run()).To(Succeed())

		pastEvt := newEvent(1.0, false)
		Expect(func() { engine.Schedule(pastEvt) }).To(Panic())
	})

	It("should call simulation end handlers when finished", func() {
		endHandler := &recordingEndHandler{}
		engine.RegisterSimulationEndHandler(endHandler)

		evt := newEvent(1.0, false)
		handler.EXPECT().Handle(evt).Return(nil)
		engine.Schedule(evt)

		Expect(engine.Run()).To(Succeed())
		engine.Finished()

		Expect(endHandler.called).To(BeTrue())
		Expect(float64(endHandler.now)).To(BeNumerically("~", 1.0, 1e-12))
	})

	It("should process a large number of events", Serial, func() {
		experiment := gmeasure.NewExperiment("Serial Engine Throughput")
		AddReportEntry(experiment.Name, experiment)

		experiment.Sample(func(idx int) {
			localEngine := NewSerialEngine()
			localHandler := &countingHandler{}
			rng := rand.New(rand.NewSource(int64(idx)))

			for i := 0; i < 10000; i++ {
				evt := NewEventBase(VTimeInSec(rng.Float64()), localHandler)
				localEngine.Schedule(evt)
			}

			experiment.MeasureDuration("run", func() {
				Expect(localEngine.Run()).To(Succeed())
			})

			Expect(localHandler.count).To(Equal(10000))
		}, gmeasure.SamplingConfig{N: 5})
	})
})
