// Package acceptance provides components for testing switch-centered bus
// fabrics with randomized traffic.
package acceptance

import (
	"fmt"
	"log"
	"math/rand"
	"reflect"

	"github.com/sarchlab/shiba/bus"
	"github.com/sarchlab/shiba/sim"
)

// An Agent is an initiator that generates random get and put traffic and
// checks every response against a shadow copy of the memory it wrote. Each
// in-flight access holds a distinct tag, and the agent never has two
// accesses to the same address in flight at once.
type Agent struct {
	*sim.TickingComponent

	fabricPort sim.Port
	fabricDst  sim.RemotePort
	rng        *rand.Rand

	windows        []bus.AddressWindow
	unmapped       *bus.AddressWindow
	unmappedChance float64
	stripeIndex    uint64
	stripeCount    uint64
	accessSize     byte

	// ReadLeft and WriteLeft count the accesses the agent still has to
	// issue.
	ReadLeft  int
	WriteLeft int

	freeTags      []bus.Tag
	pending       map[bus.Tag]*pendingAccess
	knownMemValue map[uint64][]byte

	numCompleted uint64
	numDenied    uint64
}

// A pendingAccess remembers what an in-flight request asked for, so that
// the response can be checked when it returns.
type pendingAccess struct {
	req        *bus.Request
	wantDenied bool
	wantData   []byte
	data       []byte
	byteMask   []bool
	isWrite    bool
}

// Tick processes one returned response and issues at most one new access.
func (a *Agent) Tick() bool {
	madeProgress := a.processRsp()

	if a.ReadLeft == 0 && a.WriteLeft == 0 {
		return madeProgress
	}

	if a.shouldRead() {
		madeProgress = a.doRead() || madeProgress
	} else if a.WriteLeft > 0 {
		madeProgress = a.doWrite() || madeProgress
	}

	return madeProgress
}

// FabricPort returns the port the agent sends requests from.
func (a *Agent) FabricPort() sim.Port {
	return a.fabricPort
}

// NumCompleted returns the number of accesses that have received their
// response, denials included.
func (a *Agent) NumCompleted() uint64 {
	return a.numCompleted
}

// NumDenied returns the number of accesses that came back denied.
func (a *Agent) NumDenied() uint64 {
	return a.numDenied
}

// NumPending returns the number of accesses still waiting for a response.
func (a *Agent) NumPending() int {
	return len(a.pending)
}

func (a *Agent) processRsp() bool {
	msg := a.fabricPort.RetrieveIncoming()
	if msg == nil {
		return false
	}

	rsp, ok := msg.(*bus.Response)
	if !ok {
		log.Panicf("%s: cannot process message of type %s",
			a.Name(), reflect.TypeOf(msg))
	}

	if rsp.Dst != a.fabricPort.AsRemote() {
		log.Panicf("%s: response delivered to a wrong destination", a.Name())
	}

	access, found := a.pending[rsp.Tag]
	if !found {
		log.Panicf("%s: response carries tag 0x%x, which is not in flight",
			a.Name(), uint64(rsp.Tag))
	}

	a.checkRsp(access, rsp)

	delete(a.pending, rsp.Tag)
	a.freeTags = append(a.freeTags, rsp.Tag)
	a.numCompleted++

	if rsp.Denied {
		a.numDenied++
	}

	if access.isWrite && !rsp.Denied {
		a.applyWrite(access)
	}

	return true
}

func (a *Agent) checkRsp(access *pendingAccess, rsp *bus.Response) {
	req := access.req

	if rsp.GetRspTo() != req.ID {
		log.Panicf("%s: response to tag 0x%x answers request %s, want %s",
			a.Name(), uint64(rsp.Tag), rsp.GetRspTo(), req.ID)
	}

	if rsp.Size != req.Size || rsp.Param != req.Param {
		log.Panicf("%s: response to tag 0x%x does not echo size and param",
			a.Name(), uint64(rsp.Tag))
	}

	if access.wantDenied {
		a.checkDenial(rsp)
		return
	}

	if rsp.Denied {
		log.Panicf("%s: access to mapped address 0x%x denied",
			a.Name(), req.Address)
	}

	if access.isWrite {
		a.checkWriteRsp(rsp)
	} else {
		a.checkReadRsp(access, rsp)
	}
}

func (a *Agent) checkDenial(rsp *bus.Response) {
	if rsp.Opcode != bus.OpError || !rsp.Denied ||
		rsp.Corrupt || len(rsp.Data) != 0 {
		log.Panicf("%s: malformed denial for tag 0x%x",
			a.Name(), uint64(rsp.Tag))
	}
}

func (a *Agent) checkWriteRsp(rsp *bus.Response) {
	if rsp.Opcode != bus.OpAccessAck || len(rsp.Data) != 0 {
		log.Panicf("%s: malformed write response for tag 0x%x",
			a.Name(), uint64(rsp.Tag))
	}
}

func (a *Agent) checkReadRsp(access *pendingAccess, rsp *bus.Response) {
	if rsp.Opcode != bus.OpAccessAckData {
		log.Panicf("%s: malformed read response for tag 0x%x",
			a.Name(), uint64(rsp.Tag))
	}

	want := access.wantData
	if len(rsp.Data) != len(want) {
		log.Panicf("%s: read 0x%x returned %d bytes, want %d",
			a.Name(), access.req.Address, len(rsp.Data), len(want))
	}

	for i := range want {
		if rsp.Data[i] != want[i] {
			log.Panicf("%s: read 0x%x returned %v, want %v",
				a.Name(), access.req.Address, rsp.Data, want)
		}
	}
}

// applyWrite folds a completed write into the shadow memory. Partial writes
// merge into the bytes already there.
func (a *Agent) applyWrite(access *pendingAccess) {
	size := 1 << access.req.Size

	value := make([]byte, size)
	copy(value, a.knownMemValue[access.req.Address])

	for i := 0; i < size; i++ {
		if access.byteMask == nil || access.byteMask[i] {
			value[i] = access.data[i]
		}
	}

	a.knownMemValue[access.req.Address] = value
}

func (a *Agent) shouldRead() bool {
	if len(a.knownMemValue) == 0 {
		return false
	}

	if a.ReadLeft == 0 {
		return false
	}

	if a.WriteLeft == 0 {
		return true
	}

	return a.rng.Float64() > 0.5
}

func (a *Agent) doRead() bool {
	if len(a.freeTags) == 0 {
		return false
	}

	address, wantDenied := a.randomReadAddress()
	if a.isAddressPending(address) {
		return false
	}

	tag := a.freeTags[0]
	req := bus.RequestBuilder{}.
		WithSrc(a.fabricPort.AsRemote()).
		WithDst(a.fabricDst).
		WithOpcode(bus.OpGet).
		WithSize(a.accessSize).
		WithTag(tag).
		WithAddress(address).
		Build()

	err := a.fabricPort.Send(req)
	if err != nil {
		return false
	}

	access := &pendingAccess{req: req, wantDenied: wantDenied}
	if !wantDenied {
		access.wantData = append([]byte(nil), a.knownMemValue[address]...)
	}

	a.freeTags = a.freeTags[1:]
	a.pending[tag] = access
	a.ReadLeft--

	return true
}

func (a *Agent) doWrite() bool {
	if len(a.freeTags) == 0 {
		return false
	}

	address, wantDenied := a.randomWriteAddress()
	if a.isAddressPending(address) {
		return false
	}

	data := make([]byte, 1<<a.accessSize)
	a.rng.Read(data)

	opcode := bus.OpPutFull

	var byteMask []bool
	if a.rng.Float64() > 0.5 {
		opcode = bus.OpPutPartial
		byteMask = a.randomByteMask(len(data))
	}

	tag := a.freeTags[0]
	req := bus.RequestBuilder{}.
		WithSrc(a.fabricPort.AsRemote()).
		WithDst(a.fabricDst).
		WithOpcode(opcode).
		WithSize(a.accessSize).
		WithTag(tag).
		WithAddress(address).
		WithData(data).
		WithByteMask(byteMask).
		Build()

	err := a.fabricPort.Send(req)
	if err != nil {
		return false
	}

	a.freeTags = a.freeTags[1:]
	a.pending[tag] = &pendingAccess{
		req:        req,
		wantDenied: wantDenied,
		data:       data,
		byteMask:   byteMask,
		isWrite:    true,
	}
	a.WriteLeft--

	return true
}

func (a *Agent) randomByteMask(n int) []bool {
	mask := make([]bool, n)

	anySet := false
	for i := range mask {
		mask[i] = a.rng.Float64() > 0.5
		anySet = anySet || mask[i]
	}

	if !anySet {
		mask[a.rng.Intn(n)] = true
	}

	return mask
}

// randomReadAddress picks an address to read and reports whether the access
// is expected to come back denied. Mapped reads only target addresses the
// agent has written, so the returned data is predictable.
func (a *Agent) randomReadAddress() (uint64, bool) {
	if a.shouldTargetUnmapped() {
		return a.randomUnmappedAddress(), true
	}

	for {
		addr := a.randomMappedAddress()
		if _, written := a.knownMemValue[addr]; written {
			return addr, false
		}
	}
}

func (a *Agent) randomWriteAddress() (uint64, bool) {
	if a.shouldTargetUnmapped() {
		return a.randomUnmappedAddress(), true
	}

	return a.randomMappedAddress(), false
}

func (a *Agent) shouldTargetUnmapped() bool {
	return a.unmapped != nil && a.rng.Float64() < a.unmappedChance
}

// randomMappedAddress draws a block-aligned address from a random window,
// restricted to this agent's share of the blocks so that agents never write
// each other's addresses.
func (a *Agent) randomMappedAddress() uint64 {
	window := a.windows[a.rng.Intn(len(a.windows))]

	blockSize := uint64(1) << a.accessSize
	numBlocks := (window.SizeMask + 1) / blockSize
	blocksPerStripe := numBlocks / a.stripeCount

	block := a.rng.Uint64()%blocksPerStripe*a.stripeCount + a.stripeIndex

	return window.Base + block*blockSize
}

func (a *Agent) randomUnmappedAddress() uint64 {
	blockSize := uint64(1) << a.accessSize
	numBlocks := (a.unmapped.SizeMask + 1) / blockSize

	return a.unmapped.Base + a.rng.Uint64()%numBlocks*blockSize
}

func (a *Agent) isAddressPending(addr uint64) bool {
	for _, access := range a.pending {
		if access.req.Address == addr {
			return true
		}
	}

	return false
}

// AgentBuilder can build agents.
type AgentBuilder struct {
	engine         sim.Engine
	freq           sim.Freq
	fabricDst      sim.RemotePort
	windows        []bus.AddressWindow
	unmapped       *bus.AddressWindow
	unmappedChance float64
	stripeIndex    int
	stripeCount    int
	accessSize     byte
	maxOutstanding int
	readLeft       int
	writeLeft      int
	seed           int64
}

// MakeAgentBuilder returns an AgentBuilder with default parameters.
func MakeAgentBuilder() AgentBuilder {
	return AgentBuilder{
		freq:           1 * sim.GHz,
		stripeCount:    1,
		accessSize:     2,
		maxOutstanding: 4,
		readLeft:       1000,
		writeLeft:      1000,
		seed:           1,
	}
}

// WithEngine sets the engine that drives the agent.
func (b AgentBuilder) WithEngine(engine sim.Engine) AgentBuilder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency the agent issues accesses at.
func (b AgentBuilder) WithFreq(freq sim.Freq) AgentBuilder {
	b.freq = freq
	return b
}

// WithFabricDst sets the remote port the agent sends requests to.
func (b AgentBuilder) WithFabricDst(dst sim.RemotePort) AgentBuilder {
	b.fabricDst = dst
	return b
}

// WithWindows sets the address windows the agent draws mapped addresses
// from.
func (b AgentBuilder) WithWindows(windows []bus.AddressWindow) AgentBuilder {
	b.windows = windows
	return b
}

// WithUnmappedWindow gives the agent a range of addresses that no responder
// claims. Each access targets the range with the given probability and must
// then come back denied.
func (b AgentBuilder) WithUnmappedWindow(
	window bus.AddressWindow,
	chance float64,
) AgentBuilder {
	b.unmapped = &window
	b.unmappedChance = chance
	return b
}

// WithAddressStripe restricts the agent to stripe index out of count
// interleaved shares of every window, so that concurrent agents access
// disjoint addresses.
func (b AgentBuilder) WithAddressStripe(index, count int) AgentBuilder {
	b.stripeIndex = index
	b.stripeCount = count
	return b
}

// WithAccessSize sets the log2 of the number of bytes per access.
func (b AgentBuilder) WithAccessSize(size byte) AgentBuilder {
	b.accessSize = size
	return b
}

// WithMaxOutstanding sets the number of accesses the agent may have in
// flight at once, which is also the number of distinct tags it uses.
func (b AgentBuilder) WithMaxOutstanding(n int) AgentBuilder {
	b.maxOutstanding = n
	return b
}

// WithReadLeft sets the number of reads the agent issues.
func (b AgentBuilder) WithReadLeft(n int) AgentBuilder {
	b.readLeft = n
	return b
}

// WithWriteLeft sets the number of writes the agent issues.
func (b AgentBuilder) WithWriteLeft(n int) AgentBuilder {
	b.writeLeft = n
	return b
}

// WithSeed seeds the agent's private random number generator.
func (b AgentBuilder) WithSeed(seed int64) AgentBuilder {
	b.seed = seed
	return b
}

// Build creates an agent with the given name.
func (b AgentBuilder) Build(name string) *Agent {
	b.mustBeWellFormed()

	a := &Agent{
		fabricDst:      b.fabricDst,
		rng:            rand.New(rand.NewSource(b.seed)),
		windows:        b.windows,
		unmapped:       b.unmapped,
		unmappedChance: b.unmappedChance,
		stripeIndex:    uint64(b.stripeIndex),
		stripeCount:    uint64(b.stripeCount),
		accessSize:     b.accessSize,
		ReadLeft:       b.readLeft,
		WriteLeft:      b.writeLeft,
		pending:        make(map[bus.Tag]*pendingAccess),
		knownMemValue:  make(map[uint64][]byte),
	}

	for i := 0; i < b.maxOutstanding; i++ {
		a.freeTags = append(a.freeTags, bus.Tag(i))
	}

	a.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, a)
	a.fabricPort = sim.NewPort(a, 1, 1, name+".FabricPort")
	a.AddPort("Fabric", a.fabricPort)

	return a
}

func (b AgentBuilder) mustBeWellFormed() {
	if b.engine == nil {
		panic("agent requires an engine")
	}

	if len(b.windows) == 0 {
		panic("agent requires at least one address window")
	}

	if b.stripeIndex < 0 || b.stripeIndex >= b.stripeCount {
		panic("agent stripe index out of range")
	}

	blockSize := uint64(1) << b.accessSize
	for i, w := range b.windows {
		if (w.SizeMask+1)/blockSize < uint64(b.stripeCount) {
			panic(fmt.Sprintf(
				"window %d has fewer blocks than there are stripes", i))
		}
	}

	if b.maxOutstanding < 1 {
		panic("agent requires at least one tag")
	}
}
