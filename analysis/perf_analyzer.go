// Package analysis collects performance metrics from simulations.
package analysis

import (
	"encoding/json"
	"reflect"
	"unsafe"

	"github.com/sarchlab/shiba/sim"
)

// PerfAnalyzerEntry is a single entry in the performance database.
type PerfAnalyzerEntry struct {
	Start       sim.VTimeInSec
	End         sim.VTimeInSec
	Where       string
	WhereRemote sim.RemotePort
	What        string
	EntryType   string
	Value       float64
	Unit        string
}

// PerfLogger is the interface that provides the service that can record
// performance data entries.
type PerfLogger interface {
	AddDataEntry(entry PerfAnalyzerEntry)
}

// PerfAnalyzer can report performance metrics during simulation.
type PerfAnalyzer struct {
	usePeriod bool
	period    sim.VTimeInSec
	engine    sim.Engine
	backend   PerfAnalyzerBackend

	portAnalyzers map[string][]*PortAnalyzer
}

// RegisterEngine registers the engine that is used in the simulation.
func (p *PerfAnalyzer) RegisterEngine(e sim.Engine) {
	p.engine = e
}

// RegisterComponent register a component to be monitored.
func (p *PerfAnalyzer) RegisterComponent(c sim.Component) {
	p.registerComponentBuffers(c)
	p.registerComponentPorts(c)
}

func (p *PerfAnalyzer) registerComponentBuffers(c sim.Component) {
	p.registerComponentOrPortBuffers(c)

	for _, port := range c.Ports() {
		p.registerComponentOrPortBuffers(port)
	}
}

func (p *PerfAnalyzer) registerComponentOrPortBuffers(c any) {
	v := reflect.ValueOf(c).Elem()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)

		fieldType := field.Type()
		bufferType := reflect.TypeOf((*sim.Buffer)(nil)).Elem()

		if fieldType == bufferType {
			fieldRef := reflect.NewAt(
				field.Type(),
				unsafe.Pointer(field.UnsafeAddr()),
			).Elem().Interface().(sim.Buffer)

			p.RegisterBuffer(fieldRef)
		}
	}
}

// RegisterBuffer registers a buffer to be monitored.
func (p *PerfAnalyzer) RegisterBuffer(buf sim.Buffer) {
	bufferAnalyzerBuilder := MakeBufferAnalyzerBuilder().
		WithTimeTeller(p.engine).
		WithPerfLogger(p).
		WithBuffer(buf)

	if p.usePeriod {
		bufferAnalyzerBuilder = bufferAnalyzerBuilder.WithPeriod(p.period)
	}

	bufferAnalyzer := bufferAnalyzerBuilder.Build()

	buf.AcceptHook(bufferAnalyzer)
}

func (p *PerfAnalyzer) registerComponentPorts(c sim.Component) {
	for _, port := range c.Ports() {
		p.RegisterPort(port)
	}
}

// RegisterPort registers a port to be monitored. Traffic on the port is
// reported under the name of the component that owns the port.
func (p *PerfAnalyzer) RegisterPort(port sim.Port) {
	portAnalyzerBuilder := MakePortAnalyzerBuilder().
		WithTimeTeller(p.engine).
		WithPerfLogger(p).
		WithPort(port)

	if p.usePeriod {
		portAnalyzerBuilder = portAnalyzerBuilder.WithPeriod(p.period)
	}

	portAnalyzer := portAnalyzerBuilder.Build()

	port.AcceptHook(portAnalyzer)

	comp := port.Component()
	if comp == nil {
		return
	}

	if p.portAnalyzers == nil {
		p.portAnalyzers = make(map[string][]*PortAnalyzer)
	}

	name := comp.Name()
	p.portAnalyzers[name] = append(p.portAnalyzers[name], portAnalyzer)
}

// GetCurrentTraffic returns the traffic recorded on the ports of the named
// component in the on-going period, encoded as JSON.
func (p *PerfAnalyzer) GetCurrentTraffic(compName string) string {
	entries := []PerfAnalyzerEntry{}

	for _, analyzer := range p.portAnalyzers[compName] {
		entries = append(entries, analyzer.CurrentTraffic()...)
	}

	bytes, err := json.Marshal(entries)
	if err != nil {
		panic(err)
	}

	return string(bytes)
}

// AddDataEntry adds a data entry to the backend database.
func (p *PerfAnalyzer) AddDataEntry(entry PerfAnalyzerEntry) {
	p.backend.AddDataEntry(entry)
}

// PerfAnalyzerBuilder is a builder that can build a PerfAnalyzer.
type PerfAnalyzerBuilder struct {
	usePeriod   bool
	period      sim.VTimeInSec
	backendType string
	dbFilename  string
}

// MakePerfAnalyzerBuilder creates a new PerfAnalyzerBuilder.
func MakePerfAnalyzerBuilder() PerfAnalyzerBuilder {
	return PerfAnalyzerBuilder{
		usePeriod:   false,
		period:      0,
		backendType: "csv",
		dbFilename:  "perf",
	}
}

// WithPeriod sets the period of the PerfAnalyzer.
func (b PerfAnalyzerBuilder) WithPeriod(
	period sim.VTimeInSec,
) PerfAnalyzerBuilder {
	b.usePeriod = true
	b.period = period
	return b
}

// WithSQLiteBackend sets the backend of the PerfAnalyzer to be a SQLite.
func (b PerfAnalyzerBuilder) WithSQLiteBackend() PerfAnalyzerBuilder {
	b.backendType = "sqlite"
	return b
}

// WithDBFilename sets the filename of the database file.
func (b PerfAnalyzerBuilder) WithDBFilename(
	filename string,
) PerfAnalyzerBuilder {
	b.dbFilename = filename
	return b
}

// Build creates a PerfAnalyzer.
func (b PerfAnalyzerBuilder) Build() *PerfAnalyzer {
	var backend PerfAnalyzerBackend

	switch b.backendType {
	case "csv":
		backend = NewCSVPerfAnalyzerBackend(b.dbFilename)
	case "sqlite":
		backend = NewSQLitePerfAnalyzerBackend(b.dbFilename)
	default:
		panic("unknown backend type " + b.backendType)
	}

	return &PerfAnalyzer{
		usePeriod:     b.usePeriod,
		period:        b.period,
		backend:       backend,
		portAnalyzers: make(map[string][]*PortAnalyzer),
	}
}
