package acceptance

import (
	"fmt"
	"log"

	"github.com/sarchlab/shiba/bus"
	"github.com/sarchlab/shiba/bus/busswitch"
	"github.com/sarchlab/shiba/bus/memresponder"
	"github.com/sarchlab/shiba/sim"
	"github.com/sarchlab/shiba/sim/directconnection"
)

// A Test owns a fabric built around one switch: agents on the initiator
// side, memory-backed responders on the responder side, one responder per
// address window. Running the test drives the agents' randomized traffic
// until every access has completed, then the bookkeeping of the agents and
// the switch can be cross-checked.
type Test struct {
	engine     sim.Engine
	agents     []*Agent
	fabric     *busswitch.Comp
	responders []*memresponder.Comp
}

// Engine returns the engine that drives the test.
func (t *Test) Engine() sim.Engine {
	return t.engine
}

// Agents returns the agents of the test.
func (t *Test) Agents() []*Agent {
	return t.agents
}

// Switch returns the switch at the center of the fabric.
func (t *Test) Switch() *busswitch.Comp {
	return t.fabric
}

// Responders returns the responders of the test.
func (t *Test) Responders() []*memresponder.Comp {
	return t.responders
}

// Run starts all the agents and runs the simulation until no event is
// left, which is when every access has either completed or stalled.
func (t *Test) Run() {
	for _, a := range t.agents {
		a.TickLater()
	}

	err := t.engine.Run()
	if err != nil {
		panic(err)
	}
}

// MustHaveCompletedAll asserts that every agent issued all its accesses and
// got all its responses back, and that the switch's counters agree with
// what the agents saw.
func (t *Test) MustHaveCompletedAll() {
	var completed, denied uint64

	for _, a := range t.agents {
		if a.ReadLeft > 0 || a.WriteLeft > 0 {
			log.Panicf("%s still has %d reads and %d writes to issue",
				a.Name(), a.ReadLeft, a.WriteLeft)
		}

		if a.NumPending() > 0 {
			log.Panicf("%s still has %d accesses in flight",
				a.Name(), a.NumPending())
		}

		completed += a.NumCompleted()
		denied += a.NumDenied()
	}

	if t.fabric.RequestsSeen() != completed {
		log.Panicf("switch saw %d requests, agents completed %d",
			t.fabric.RequestsSeen(), completed)
	}

	if t.fabric.ResponsesCompleted() != completed {
		log.Panicf("switch completed %d responses, agents completed %d",
			t.fabric.ResponsesCompleted(), completed)
	}

	if t.fabric.AutoDenied() != denied {
		log.Panicf("switch denied %d requests, agents saw %d denials",
			t.fabric.AutoDenied(), denied)
	}
}

// ReportAccessRates dumps the access rate observed by each agent.
func (t *Test) ReportAccessRates(now sim.VTimeInSec) {
	for _, a := range t.agents {
		log.Printf("agent %s, %.2f million accesses per second, %d denied",
			a.Name(),
			float64(a.NumCompleted())/float64(now)/1e6,
			a.NumDenied())
	}
}

// TestBuilder can build tests. The default parameters describe the
// smallest interesting fabric: two agents in front of a switch with four
// tracking slots and two responders with adjacent 4 KB windows.
type TestBuilder struct {
	seed             int64
	freq             sim.Freq
	numInitiators    int
	windows          []bus.AddressWindow
	unmapped         *bus.AddressWindow
	unmappedChance   float64
	trackingDepth    int
	responderLatency int
	accessSize       byte
	maxOutstanding   int
	readsPerAgent    int
	writesPerAgent   int
}

// MakeTestBuilder returns a TestBuilder with default parameters.
func MakeTestBuilder() TestBuilder {
	return TestBuilder{
		seed:          1,
		freq:          1 * sim.GHz,
		numInitiators: 2,
		windows: []bus.AddressWindow{
			{Base: 0x0000, SizeMask: 0x0FFF},
			{Base: 0x1000, SizeMask: 0x0FFF},
		},
		trackingDepth:    4,
		responderLatency: 10,
		accessSize:       2,
		maxOutstanding:   4,
		readsPerAgent:    100,
		writesPerAgent:   100,
	}
}

// WithSeed sets the seed that all the randomized traffic derives from.
func (b TestBuilder) WithSeed(seed int64) TestBuilder {
	b.seed = seed
	return b
}

// WithFreq sets the frequency every component of the fabric runs at.
func (b TestBuilder) WithFreq(freq sim.Freq) TestBuilder {
	b.freq = freq
	return b
}

// WithNumInitiators sets the number of agents.
func (b TestBuilder) WithNumInitiators(n int) TestBuilder {
	b.numInitiators = n
	return b
}

// WithWindows sets the responder address windows, one responder each.
func (b TestBuilder) WithWindows(windows []bus.AddressWindow) TestBuilder {
	b.windows = windows
	return b
}

// WithUnmappedWindow adds a range of addresses no responder claims. Each
// access targets the range with the given probability and must come back
// denied.
func (b TestBuilder) WithUnmappedWindow(
	window bus.AddressWindow,
	chance float64,
) TestBuilder {
	b.unmapped = &window
	b.unmappedChance = chance
	return b
}

// WithTrackingDepth sets the number of transactions the switch can track
// at once.
func (b TestBuilder) WithTrackingDepth(depth int) TestBuilder {
	b.trackingDepth = depth
	return b
}

// WithResponderLatency sets the access latency of every responder, in
// cycles.
func (b TestBuilder) WithResponderLatency(latency int) TestBuilder {
	b.responderLatency = latency
	return b
}

// WithAccessSize sets the log2 of the number of bytes per access.
func (b TestBuilder) WithAccessSize(size byte) TestBuilder {
	b.accessSize = size
	return b
}

// WithMaxOutstanding sets the number of accesses each agent may have in
// flight at once.
func (b TestBuilder) WithMaxOutstanding(n int) TestBuilder {
	b.maxOutstanding = n
	return b
}

// WithAccessesPerAgent sets the number of reads and writes each agent
// issues.
func (b TestBuilder) WithAccessesPerAgent(reads, writes int) TestBuilder {
	b.readsPerAgent = reads
	b.writesPerAgent = writes
	return b
}

// Build creates the whole fabric under the given name.
func (b TestBuilder) Build(name string) *Test {
	t := &Test{}
	t.engine = sim.NewSerialEngine()

	b.buildResponders(t, name)
	b.buildSwitch(t, name)
	b.buildAgents(t, name)
	b.connect(t, name)

	return t
}

func (b TestBuilder) buildResponders(t *Test, name string) {
	for i, w := range b.windows {
		r := memresponder.MakeBuilder().
			WithEngine(t.engine).
			WithFreq(b.freq).
			WithLatency(b.responderLatency).
			WithNewStorage(w.SizeMask + 1).
			Build(fmt.Sprintf("%s.Responder%d", name, i))
		t.responders = append(t.responders, r)
	}
}

func (b TestBuilder) buildSwitch(t *Test, name string) {
	responders := make([]busswitch.Responder, len(b.windows))
	for i, w := range b.windows {
		responders[i] = busswitch.Responder{
			Window: w,
			Port:   t.responders[i].TopPort().AsRemote(),
		}
	}

	t.fabric = busswitch.MakeBuilder().
		WithEngine(t.engine).
		WithFreq(b.freq).
		WithNumInitiators(b.numInitiators).
		WithResponders(responders).
		WithTrackingDepth(b.trackingDepth).
		Build(name + ".Switch")
}

func (b TestBuilder) buildAgents(t *Test, name string) {
	for i := 0; i < b.numInitiators; i++ {
		builder := MakeAgentBuilder().
			WithEngine(t.engine).
			WithFreq(b.freq).
			WithFabricDst(t.fabric.TopPort(i).AsRemote()).
			WithWindows(b.windows).
			WithAddressStripe(i, b.numInitiators).
			WithAccessSize(b.accessSize).
			WithMaxOutstanding(b.maxOutstanding).
			WithReadLeft(b.readsPerAgent).
			WithWriteLeft(b.writesPerAgent).
			WithSeed(b.seed + int64(i))

		if b.unmapped != nil {
			builder = builder.WithUnmappedWindow(*b.unmapped, b.unmappedChance)
		}

		a := builder.Build(fmt.Sprintf("%s.Agent%d", name, i))
		t.agents = append(t.agents, a)
	}
}

func (b TestBuilder) connect(t *Test, name string) {
	conn := directconnection.MakeBuilder().
		WithEngine(t.engine).
		WithFreq(b.freq).
		Build(name + ".Conn")

	for i, a := range t.agents {
		conn.PlugIn(a.FabricPort())
		conn.PlugIn(t.fabric.TopPort(i))
	}

	for i, r := range t.responders {
		conn.PlugIn(t.fabric.BottomPort(i))
		conn.PlugIn(r.TopPort())
	}
}
