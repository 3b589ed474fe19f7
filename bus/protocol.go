// Package bus defines the messages and address arithmetic of a split-phase,
// tag-matched fabric protocol. Initiators send requests that carry an opaque
// tag. Responders answer with responses that echo the tag, and the tag is the
// only information that pairs a response with its request.
package bus

import (
	"github.com/sarchlab/shiba/sim"
)

var requestByteOverhead = 12
var responseByteOverhead = 4
var controlMsgByteOverhead = 4

// A Tag identifies an in-flight transaction. An initiator may reuse a tag
// only after the response carrying the same tag has returned.
type Tag uint64

// A ReqOpcode identifies the operation a request asks for.
type ReqOpcode byte

// Request opcodes.
const (
	OpGet ReqOpcode = iota
	OpPutFull
	OpPutPartial
)

// String returns the name of the opcode.
func (o ReqOpcode) String() string {
	switch o {
	case OpGet:
		return "Get"
	case OpPutFull:
		return "PutFull"
	case OpPutPartial:
		return "PutPartial"
	}

	return "Unknown"
}

// A RspOpcode identifies the kind of answer a response carries.
type RspOpcode byte

// Response opcodes. OpError is the canonical opcode of a denial generated
// on behalf of an unreachable responder.
const (
	OpAccessAck RspOpcode = iota
	OpAccessAckData
	OpError
)

// String returns the name of the opcode.
func (o RspOpcode) String() string {
	switch o {
	case OpAccessAck:
		return "AccessAck"
	case OpAccessAckData:
		return "AccessAckData"
	case OpError:
		return "Error"
	}

	return "Unknown"
}

// A Request is a tagged access traveling from an initiator towards a
// responder. Size is the log2 of the number of bytes accessed. Data and
// ByteMask are only meaningful for put operations.
type Request struct {
	sim.MsgMeta

	Opcode   ReqOpcode
	Param    byte
	Size     byte
	Tag      Tag
	Address  uint64
	Data     []byte
	ByteMask []bool
}

// Meta returns the message meta.
func (r *Request) Meta() *sim.MsgMeta {
	return &r.MsgMeta
}

// Clone returns a copy of the request with a different ID.
func (r *Request) Clone() sim.Msg {
	cloneMsg := *r
	cloneMsg.ID = sim.GetIDGenerator().Generate()

	return &cloneMsg
}

// A Response answers one request, identified by the echoed tag. Denied
// marks an access that did not take effect. Corrupt marks payload data
// that must not be used.
type Response struct {
	sim.MsgMeta

	Opcode  RspOpcode
	Param   byte
	Size    byte
	Tag     Tag
	Data    []byte
	Corrupt bool
	Denied  bool
	RspTo   string
}

// Meta returns the message meta.
func (r *Response) Meta() *sim.MsgMeta {
	return &r.MsgMeta
}

// Clone returns a copy of the response with a different ID.
func (r *Response) Clone() sim.Msg {
	cloneMsg := *r
	cloneMsg.ID = sim.GetIDGenerator().Generate()

	return &cloneMsg
}

// GetRspTo returns the ID of the request the response answers. The field is
// informational. Matching inside the fabric is by tag only.
func (r *Response) GetRspTo() string {
	return r.RspTo
}

// RequestBuilder can build requests.
type RequestBuilder struct {
	src, dst sim.RemotePort
	opcode   ReqOpcode
	param    byte
	size     byte
	tag      Tag
	address  uint64
	data     []byte
	byteMask []bool
}

// WithSrc sets the source of the request to build.
func (b RequestBuilder) WithSrc(src sim.RemotePort) RequestBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the request to build.
func (b RequestBuilder) WithDst(dst sim.RemotePort) RequestBuilder {
	b.dst = dst
	return b
}

// WithOpcode sets the opcode of the request to build.
func (b RequestBuilder) WithOpcode(opcode ReqOpcode) RequestBuilder {
	b.opcode = opcode
	return b
}

// WithParam sets the param bits of the request to build.
func (b RequestBuilder) WithParam(param byte) RequestBuilder {
	b.param = param
	return b
}

// WithSize sets the log2 access size of the request to build.
func (b RequestBuilder) WithSize(size byte) RequestBuilder {
	b.size = size
	return b
}

// WithTag sets the tag of the request to build.
func (b RequestBuilder) WithTag(tag Tag) RequestBuilder {
	b.tag = tag
	return b
}

// WithAddress sets the address of the request to build.
func (b RequestBuilder) WithAddress(address uint64) RequestBuilder {
	b.address = address
	return b
}

// WithData sets the payload of the request to build.
func (b RequestBuilder) WithData(data []byte) RequestBuilder {
	b.data = data
	return b
}

// WithByteMask sets the byte enables of the request to build.
func (b RequestBuilder) WithByteMask(byteMask []bool) RequestBuilder {
	b.byteMask = byteMask
	return b
}

// Build creates a new Request.
func (b RequestBuilder) Build() *Request {
	r := &Request{}
	r.ID = sim.GetIDGenerator().Generate()
	r.Src = b.src
	r.Dst = b.dst
	r.TrafficBytes = len(b.data) + requestByteOverhead
	r.Opcode = b.opcode
	r.Param = b.param
	r.Size = b.size
	r.Tag = b.tag
	r.Address = b.address
	r.Data = b.data
	r.ByteMask = b.byteMask

	return r
}

// ResponseBuilder can build responses.
type ResponseBuilder struct {
	src, dst sim.RemotePort
	opcode   RspOpcode
	param    byte
	size     byte
	tag      Tag
	data     []byte
	corrupt  bool
	denied   bool
	rspTo    string
}

// WithSrc sets the source of the response to build.
func (b ResponseBuilder) WithSrc(src sim.RemotePort) ResponseBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the response to build.
func (b ResponseBuilder) WithDst(dst sim.RemotePort) ResponseBuilder {
	b.dst = dst
	return b
}

// WithOpcode sets the opcode of the response to build.
func (b ResponseBuilder) WithOpcode(opcode RspOpcode) ResponseBuilder {
	b.opcode = opcode
	return b
}

// WithParam sets the param bits of the response to build.
func (b ResponseBuilder) WithParam(param byte) ResponseBuilder {
	b.param = param
	return b
}

// WithSize sets the log2 access size of the response to build.
func (b ResponseBuilder) WithSize(size byte) ResponseBuilder {
	b.size = size
	return b
}

// WithTag sets the echoed tag of the response to build.
func (b ResponseBuilder) WithTag(tag Tag) ResponseBuilder {
	b.tag = tag
	return b
}

// WithData sets the payload of the response to build.
func (b ResponseBuilder) WithData(data []byte) ResponseBuilder {
	b.data = data
	return b
}

// AsCorrupt marks the payload of the response to build as unusable.
func (b ResponseBuilder) AsCorrupt() ResponseBuilder {
	b.corrupt = true
	return b
}

// AsDenied marks the response to build as a denied access.
func (b ResponseBuilder) AsDenied() ResponseBuilder {
	b.denied = true
	return b
}

// WithRspTo sets the ID of the request the response answers.
func (b ResponseBuilder) WithRspTo(id string) ResponseBuilder {
	b.rspTo = id
	return b
}

// Build creates a new Response.
func (b ResponseBuilder) Build() *Response {
	r := &Response{}
	r.ID = sim.GetIDGenerator().Generate()
	r.Src = b.src
	r.Dst = b.dst
	r.TrafficBytes = len(b.data) + responseByteOverhead
	r.Opcode = b.opcode
	r.Param = b.param
	r.Size = b.size
	r.Tag = b.tag
	r.Data = b.data
	r.Corrupt = b.corrupt
	r.Denied = b.denied
	r.RspTo = b.rspTo

	return r
}

// ControlMsg turns a device on or off, drains it, or resets it.
type ControlMsg struct {
	sim.MsgMeta

	Enable     bool
	Drain      bool
	Reset      bool
	NotifyDone bool
}

// Meta returns the message meta.
func (m *ControlMsg) Meta() *sim.MsgMeta {
	return &m.MsgMeta
}

// Clone returns a copy of the control message with a different ID.
func (m *ControlMsg) Clone() sim.Msg {
	cloneMsg := *m
	cloneMsg.ID = sim.GetIDGenerator().Generate()

	return &cloneMsg
}

// GenerateRsp generates a response to the control message.
func (m *ControlMsg) GenerateRsp() sim.Rsp {
	rsp := sim.GeneralRspBuilder{}.
		WithSrc(m.Dst).
		WithDst(m.Src).
		WithOriginalReq(m).
		Build()

	return rsp
}

// ControlMsgBuilder can build control messages.
type ControlMsgBuilder struct {
	src, dst   sim.RemotePort
	enable     bool
	drain      bool
	reset      bool
	notifyDone bool
}

// WithSrc sets the source of the control message to build.
func (b ControlMsgBuilder) WithSrc(src sim.RemotePort) ControlMsgBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the control message to build.
func (b ControlMsgBuilder) WithDst(dst sim.RemotePort) ControlMsgBuilder {
	b.dst = dst
	return b
}

// WithEnable sets the enable bit of the control message to build.
func (b ControlMsgBuilder) WithEnable(flag bool) ControlMsgBuilder {
	b.enable = flag
	return b
}

// WithDrain sets the drain bit of the control message to build.
func (b ControlMsgBuilder) WithDrain(flag bool) ControlMsgBuilder {
	b.drain = flag
	return b
}

// WithReset sets the reset bit of the control message to build.
func (b ControlMsgBuilder) WithReset(flag bool) ControlMsgBuilder {
	b.reset = flag
	return b
}

// ToNotifyDone sets the "notify done" bit of the control message to build.
func (b ControlMsgBuilder) ToNotifyDone() ControlMsgBuilder {
	b.notifyDone = true
	return b
}

// Build creates a new ControlMsg.
func (b ControlMsgBuilder) Build() *ControlMsg {
	m := &ControlMsg{}
	m.ID = sim.GetIDGenerator().Generate()
	m.Src = b.src
	m.Dst = b.dst
	m.TrafficBytes = controlMsgByteOverhead
	m.Enable = b.enable
	m.Drain = b.drain
	m.Reset = b.reset
	m.NotifyDone = b.notifyDone

	return m
}
