package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"
)

var _ = Describe("Buffered Sender", func() {
	var (
		mockCtrl *gomock.Controller
		port     *MockPort
		buffer   *MockBuffer
		sender   BufferedSender
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		port = NewMockPort(mockCtrl)
		buffer = NewMockBuffer(mockCtrl)
		sender = NewBufferedSender(port, buffer)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should check if the buffer can hold more messages", func() {
		buffer.EXPECT().Capacity().Return(4).AnyTimes()
		buffer.EXPECT().Size().Return(2).AnyTimes()

		Expect(sender.CanSend(2)).To(BeTrue())
		Expect(sender.CanSend(3)).To(BeFalse())
	})

	It("should panic when the count exceeds the buffer capacity", func() {
		buffer.EXPECT().Capacity().Return(4).AnyTimes()

		Expect(func() { sender.CanSend(5) }).To(Panic())
	})

	It("should enqueue messages", func() {
		msg := &sampleMsg{}
		buffer.EXPECT().Push(msg)

		sender.Send(msg)
	})

	It("should do nothing when there is no message to send", func() {
		buffer.EXPECT().Peek().Return(nil)

		Expect(sender.Tick()).To(BeFalse())
	})

	It("should send the message at the head of the buffer", func() {
		msg := &sampleMsg{}
		buffer.EXPECT().Peek().Return(msg)
		port.EXPECT().Send(msg).Return(nil)
		buffer.EXPECT().Pop().Return(msg)

		Expect(sender.Tick()).To(BeTrue())
	})

	It("should keep the message when the port cannot send", func() {
		msg := &sampleMsg{}
		buffer.EXPECT().Peek().Return(msg)
		port.EXPECT().Send(msg).Return(NewSendError())

		Expect(sender.Tick()).To(BeFalse())
	})

	It("should clear pending messages", func() {
		buffer.EXPECT().Clear()

		sender.Clear()
	})
})
