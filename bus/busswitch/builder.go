package busswitch

import (
	"fmt"

	"github.com/sarchlab/shiba/bus"
	"github.com/sarchlab/shiba/bus/busswitch/internal/tracking"
	"github.com/sarchlab/shiba/sim"
)

// Builder can build switches.
type Builder struct {
	engine          sim.Engine
	freq            sim.Freq
	numInitiators   int
	responders      []Responder
	trackingDepth   int
	addressWidth    int
	tagWidth        int
	portBufCapacity int
	decoder         bus.AddressDecoder
}

// MakeBuilder returns a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:            1 * sim.GHz,
		numInitiators:   1,
		trackingDepth:   4,
		addressWidth:    32,
		tagWidth:        16,
		portBufCapacity: 4,
	}
}

// WithEngine sets the engine that drives the switch.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency the switch ticks at.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithNumInitiators sets the number of initiator-side ports.
func (b Builder) WithNumInitiators(n int) Builder {
	b.numInitiators = n
	return b
}

// WithResponders sets the responder endpoints, one bottom port each, in
// window priority order.
func (b Builder) WithResponders(responders []Responder) Builder {
	b.responders = responders
	return b
}

// WithTrackingDepth sets the number of transactions the switch can have in
// flight at once.
func (b Builder) WithTrackingDepth(depth int) Builder {
	b.trackingDepth = depth
	return b
}

// WithAddressWidth sets the width of the address field in bits. Every
// responder window must fit within it.
func (b Builder) WithAddressWidth(bits int) Builder {
	b.addressWidth = bits
	return b
}

// WithTagWidth sets the width of the tag field in bits.
func (b Builder) WithTagWidth(bits int) Builder {
	b.tagWidth = bits
	return b
}

// WithPortBufCapacity sets the incoming buffer capacity of every port.
func (b Builder) WithPortBufCapacity(n int) Builder {
	b.portBufCapacity = n
	return b
}

// WithDecoder replaces the address decoder built from the responder
// windows.
func (b Builder) WithDecoder(decoder bus.AddressDecoder) Builder {
	b.decoder = decoder
	return b
}

// Build creates a switch with the given name.
func (b Builder) Build(name string) *Comp {
	b.mustBeWellFormed()

	c := &Comp{}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)
	c.table = tracking.NewTable(b.trackingDepth)
	c.tagMask = widthMask(b.tagWidth)
	c.decoder = b.decoder

	if c.decoder == nil {
		windows := make([]bus.AddressWindow, len(b.responders))
		for i, r := range b.responders {
			windows[i] = r.Window
		}
		c.decoder = &bus.WindowDecoder{Windows: windows}
	}

	for _, r := range b.responders {
		c.responderPorts = append(c.responderPorts, r.Port)
	}

	b.createPorts(c, name)

	c.AddMiddleware(&middleware{Comp: c})

	return c
}

// createPorts creates the ports of the switch. Outgoing buffers hold one
// message, so an empty outgoing buffer means the peer took the message
// offered to it.
func (b Builder) createPorts(c *Comp, name string) {
	for i := 0; i < b.numInitiators; i++ {
		label := portLabel("Top", i)
		port := sim.NewPort(c, b.portBufCapacity, 1,
			fmt.Sprintf("%s.%s", name, label))
		c.topPorts = append(c.topPorts, port)
		c.AddPort(label, port)
	}

	for i := range b.responders {
		label := portLabel("Bottom", i)
		port := sim.NewPort(c, b.portBufCapacity, 1,
			fmt.Sprintf("%s.%s", name, label))
		c.bottomPorts = append(c.bottomPorts, port)
		c.AddPort(label, port)
	}
}

func (b Builder) mustBeWellFormed() {
	if b.engine == nil {
		panic("busswitch requires an engine")
	}

	if b.numInitiators < 1 {
		panic("busswitch requires at least one initiator port")
	}

	if len(b.responders) < 1 {
		panic("busswitch requires at least one responder")
	}

	if b.trackingDepth < 1 {
		panic("busswitch requires at least one tracking slot")
	}

	limit := widthMask(b.addressWidth)
	for i, r := range b.responders {
		if r.Window.Base > limit ||
			r.Window.SizeMask > limit-r.Window.Base {
			panic(fmt.Sprintf(
				"responder %d window does not fit a %d-bit address",
				i, b.addressWidth))
		}
	}
}

func widthMask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}

	return (uint64(1) << bits) - 1
}
