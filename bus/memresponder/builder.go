package memresponder

import (
	"github.com/sarchlab/shiba/bus"
	"github.com/sarchlab/shiba/pipelining"
	"github.com/sarchlab/shiba/sim"
)

// Builder can build memory-backed responders.
type Builder struct {
	engine     sim.Engine
	freq       sim.Freq
	latency    int
	width      int
	capacity   uint64
	storage    *bus.Storage
	topBufSize int
}

// MakeBuilder returns a new Builder
func MakeBuilder() Builder {
	return Builder{
		freq:       1 * sim.GHz,
		latency:    100,
		width:      1,
		capacity:   4 * bus.GB,
		topBufSize: 16,
	}
}

// WithEngine sets the engine of the responder
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the responder
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithLatency sets the number of cycles between accepting a request and
// sending its response
func (b Builder) WithLatency(latency int) Builder {
	b.latency = latency
	return b
}

// WithWidth sets the number of requests the responder can accept per cycle
func (b Builder) WithWidth(width int) Builder {
	b.width = width
	return b
}

// WithNewStorage asks the builder to create a storage with the given
// capacity
func (b Builder) WithNewStorage(capacity uint64) Builder {
	b.capacity = capacity
	return b
}

// WithStorage sets the storage of the responder
func (b Builder) WithStorage(storage *bus.Storage) Builder {
	b.storage = storage
	return b
}

// WithTopBufSize sets the size of the top port buffers
func (b Builder) WithTopBufSize(topBufSize int) Builder {
	b.topBufSize = topBufSize
	return b
}

// Build builds a new Comp
func (b Builder) Build(name string) *Comp {
	c := &Comp{
		width: b.width,
		state: "enable",
	}

	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	if b.storage == nil {
		c.Storage = bus.NewStorage(b.capacity)
	} else {
		c.Storage = b.storage
	}

	c.topPort = sim.NewPort(c, b.topBufSize, b.topBufSize, name+".TopPort")
	c.ctrlPort = sim.NewPort(c, 1, 1, name+".CtrlPort")
	c.AddPort("Top", c.topPort)
	c.AddPort("Ctrl", c.ctrlPort)

	c.postPipelineBuf = sim.NewBuffer(name+".PostPipelineBuf", b.topBufSize)
	c.pipeline = pipelining.MakeBuilder().
		WithPipelineWidth(b.width).
		WithNumStage(b.latency).
		WithCyclePerStage(1).
		WithPostPipelineBuffer(c.postPipelineBuf).
		Build(name + ".Pipeline")

	c.AddMiddleware(&ctrlMiddleware{Comp: c})
	c.AddMiddleware(&memMiddleware{Comp: c})

	return c
}
