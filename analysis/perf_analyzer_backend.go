package analysis

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/sarchlab/shiba/datarecording"
)

// PerfAnalyzerBackend is the interface that provides the service that can
// record performance data entries.
type PerfAnalyzerBackend interface {
	AddDataEntry(entry PerfAnalyzerEntry)
	Flush()
}

// CSVBackend is a PerfAnalyzerBackend that writes data entries to
// a CSV file.
type CSVBackend struct {
	dbFile    *os.File
	csvWriter *csv.Writer
}

// NewCSVPerfAnalyzerBackend creates a new CSVBackend that writes to
// [dbFilename].csv.
func NewCSVPerfAnalyzerBackend(dbFilename string) *CSVBackend {
	if dbFilename == "" {
		return nil
	}

	p := &CSVBackend{}

	var err error
	p.dbFile, err = os.Create(dbFilename + ".csv")
	if err != nil {
		panic(err)
	}

	p.csvWriter = csv.NewWriter(p.dbFile)

	header := []string{
		"Start", "End",
		"Where", "WhereRemote",
		"What", "EntryType",
		"Value", "Unit",
	}
	err = p.csvWriter.Write(header)
	if err != nil {
		panic(err)
	}

	p.csvWriter.Flush()

	return p
}

// AddDataEntry adds a data entry to the CSV file.
func (p *CSVBackend) AddDataEntry(entry PerfAnalyzerEntry) {
	err := p.csvWriter.Write([]string{
		fmt.Sprintf("%.10f", entry.Start),
		fmt.Sprintf("%.10f", entry.End),
		entry.Where,
		string(entry.WhereRemote),
		entry.What,
		entry.EntryType,
		fmt.Sprintf("%.10f", entry.Value),
		entry.Unit,
	})
	if err != nil {
		panic(err)
	}

	p.csvWriter.Flush()
}

// Flush flushes the CSV writer.
func (p *CSVBackend) Flush() {
	p.csvWriter.Flush()
}

// perfTableEntry is the row layout of the performance table. The field names
// must not collide with SQL keywords.
type perfTableEntry struct {
	StartTime float64 `shiba_data:"index"`
	EndTime   float64 `shiba_data:"index"`
	Location  string  `shiba_data:"index"`
	Remote    string
	What      string
	EntryType string
	Value     float64
	Unit      string
}

// SQLiteBackend is a PerfAnalyzerBackend that writes data entries
// to a SQLite database.
type SQLiteBackend struct {
	recorder datarecording.DataRecorder
}

// NewSQLitePerfAnalyzerBackend creates a new SQLiteBackend that writes to
// [dbFilename].sqlite3. An existing database file with the same name is
// replaced.
func NewSQLitePerfAnalyzerBackend(dbFilename string) *SQLiteBackend {
	filename := dbFilename + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		err = os.Remove(filename)
		if err != nil {
			panic(err)
		}
	}

	p := &SQLiteBackend{
		recorder: datarecording.New(dbFilename),
	}

	p.recorder.CreateTable("perf", perfTableEntry{})

	return p
}

// AddDataEntry writes a data entry to the database. Entries are flushed one
// by one: the analyzers emit their final entries from exit handlers, which
// run in no particular order relative to the recorder's own exit flush.
func (p *SQLiteBackend) AddDataEntry(entry PerfAnalyzerEntry) {
	p.recorder.InsertData("perf", perfTableEntry{
		StartTime: float64(entry.Start),
		EndTime:   float64(entry.End),
		Location:  entry.Where,
		Remote:    string(entry.WhereRemote),
		What:      entry.What,
		EntryType: entry.EntryType,
		Value:     entry.Value,
		Unit:      entry.Unit,
	})
	p.recorder.Flush()
}

// Flush writes all the buffered entries into the database.
func (p *SQLiteBackend) Flush() {
	p.recorder.Flush()
}
