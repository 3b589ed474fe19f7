package sim

import "log"

// BufferedSender can delegate the sending process.
//
// The most common usage of a BufferedSender is as the send stage of a
// component. It is common that multiple sub-components need to send
// messages out from one port, or that many messages are generated in one
// cycle while only one can leave per cycle. In both cases, the message
// generator can push the messages into a BufferedSender and call the
// BufferedSender's Tick function to actually send the messages out.
type BufferedSender interface {
	// CanSend checks if the buffer has enough space to hold "count"
	// messages.
	CanSend(count int) bool

	// Send enqueues a message into the buffer. The message will be sent out
	// later by the Tick function.
	Send(msg Msg)

	// Clear removes all the messages to send.
	Clear()

	// Tick tries to send one message out. It returns true if a message is
	// sent.
	Tick() bool
}

// NewBufferedSender creates a new BufferedSender that sends the messages in
// the given buffer through the given port.
func NewBufferedSender(port Port, buffer Buffer) BufferedSender {
	return &bufferedSenderImpl{
		port:   port,
		buffer: buffer,
	}
}

type bufferedSenderImpl struct {
	port   Port
	buffer Buffer
}

func (s *bufferedSenderImpl) CanSend(count int) bool {
	if count > s.buffer.Capacity() {
		log.Panic("trying to send number of messages exceeding capacity")
	}

	return count+s.buffer.Size() <= s.buffer.Capacity()
}

func (s *bufferedSenderImpl) Send(msg Msg) {
	s.buffer.Push(msg)
}

func (s *bufferedSenderImpl) Clear() {
	s.buffer.Clear()
}

func (s *bufferedSenderImpl) Tick() bool {
	item := s.buffer.Peek()
	if item == nil {
		return false
	}

	msg := item.(Msg)
	err := s.port.Send(msg)
	if err != nil {
		return false
	}

	s.buffer.Pop()

	return true
}
