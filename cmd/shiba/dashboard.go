package main

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/sarchlab/shiba/datarecording"
)

//go:embed assets/*
var dashboardAssets embed.FS

// taskRow mirrors one row of the trace table written by the DB tracer.
type taskRow struct {
	ID        string  `json:"id"`
	ParentID  string  `json:"parent_id"`
	Kind      string  `json:"kind"`
	What      string  `json:"what"`
	Location  string  `json:"location"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// milestoneRow mirrors one row of the trace_milestones table.
type milestoneRow struct {
	ID       string  `json:"id"`
	TaskID   string  `json:"task_id"`
	Kind     string  `json:"kind"`
	What     string  `json:"what"`
	Location string  `json:"location"`
	Time     float64 `json:"time"`
}

// perfRow mirrors one row of the perf table written by the performance
// analyzer.
type perfRow struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Location  string  `json:"location"`
	Remote    string  `json:"remote"`
	What      string  `json:"what"`
	EntryType string  `json:"entry_type"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Browse a database recorded by a simulation run.",
	Long: "`dashboard --file [run.sqlite3]` serves the traces and performance " +
		"metrics recorded in the database over HTTP and opens the browser.",
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		addr, _ := cmd.Flags().GetString("http")
		noBrowser, _ := cmd.Flags().GetBool("no-browser")

		if file == "" {
			log.Fatal("Error: Must specify a database file with --file.")
		}

		if _, err := os.Stat(file); err != nil {
			log.Fatalf("Error: Cannot open %s: %v", file, err)
		}

		s := newDashboardServer(file)
		s.serve(addr, !noBrowser)
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
	dashboardCmd.Flags().String("file", "",
		"SQLite database file recorded by a simulation run")
	dashboardCmd.Flags().String("http", "localhost:3001",
		"HTTP service address")
	dashboardCmd.Flags().Bool("no-browser", false,
		"Do not open the browser")
}

type dashboardServer struct {
	db     *sql.DB
	reader datarecording.DataReader
}

func newDashboardServer(file string) *dashboardServer {
	db, err := sql.Open("sqlite3", file)
	dieOnErr(err)

	reader := datarecording.NewReaderWithDB(db)
	reader.MapTable("trace", taskRow{})
	reader.MapTable("trace_milestones", milestoneRow{})
	reader.MapTable("perf", perfRow{})

	return &dashboardServer{
		db:     db,
		reader: reader,
	}
}

func (s *dashboardServer) serve(addr string, openBrowser bool) {
	r := mux.NewRouter()
	r.HandleFunc("/api/compnames", s.listComponentNames)
	r.HandleFunc("/api/trace", s.listTasks)
	r.HandleFunc("/api/milestones", s.listMilestones)
	r.HandleFunc("/api/perf", s.listPerf)

	assets, err := fs.Sub(dashboardAssets, "assets")
	dieOnErr(err)
	r.PathPrefix("/").Handler(http.FileServer(http.FS(assets)))

	listener, err := net.Listen("tcp", addr)
	dieOnErr(err)

	url := "http://" + listener.Addr().String()
	fmt.Printf("Serving dashboard at %s\n", url)

	if openBrowser {
		err := browser.OpenURL(url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %v\n", err)
		}
	}

	err = http.Serve(listener, r)
	dieOnErr(err)
}

// listComponentNames returns the distinct locations that appear in the
// trace table.
func (s *dashboardServer) listComponentNames(
	w http.ResponseWriter,
	r *http.Request,
) {
	rows, err := s.db.QueryContext(r.Context(),
		"SELECT DISTINCT Location FROM trace ORDER BY Location")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		err := rows.Scan(&name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		names = append(names, name)
	}

	if rows.Err() != nil {
		http.Error(w, rows.Err().Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, names)
}

// listTasks returns trace rows. Filters come from the query string: id,
// parentid, kind, location select exact matches, and starttime/endtime
// select tasks overlapping the time range.
func (s *dashboardServer) listTasks(w http.ResponseWriter, r *http.Request) {
	filter := newQueryFilter()
	filter.equals("ID", r.FormValue("id"))
	filter.equals("ParentID", r.FormValue("parentid"))
	filter.equals("Kind", r.FormValue("kind"))
	filter.equals("Location", r.FormValue("location"))
	filter.timeRange("StartTime", "EndTime",
		r.FormValue("starttime"), r.FormValue("endtime"))

	s.queryTable(w, r, "trace", filter, "StartTime")
}

// listMilestones returns trace_milestones rows, optionally restricted to
// one task with the taskid parameter.
func (s *dashboardServer) listMilestones(
	w http.ResponseWriter,
	r *http.Request,
) {
	filter := newQueryFilter()
	filter.equals("TaskID", r.FormValue("taskid"))
	filter.equals("Location", r.FormValue("location"))

	s.queryTable(w, r, "trace_milestones", filter, "Time")
}

// listPerf returns perf rows, optionally restricted by location and
// entrytype.
func (s *dashboardServer) listPerf(w http.ResponseWriter, r *http.Request) {
	filter := newQueryFilter()
	filter.equals("Location", r.FormValue("location"))
	filter.equals("EntryType", r.FormValue("entrytype"))
	filter.equals("What", r.FormValue("what"))

	s.queryTable(w, r, "perf", filter, "EndTime")
}

func (s *dashboardServer) queryTable(
	w http.ResponseWriter,
	r *http.Request,
	tableName string,
	filter *queryFilter,
	orderBy string,
) {
	params := datarecording.QueryParams{
		Where:   filter.where(),
		Args:    filter.args,
		OrderBy: orderBy,
		Limit:   intParam(r, "limit", 1000),
		Offset:  intParam(r, "offset", 0),
	}

	rows, total, err := s.reader.Query(context.Background(), tableName, params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"total": total,
		"rows":  rows,
	})
}

// queryFilter accumulates WHERE conditions with placeholder arguments.
type queryFilter struct {
	conditions []string
	args       []any
}

func newQueryFilter() *queryFilter {
	return &queryFilter{}
}

func (f *queryFilter) equals(column, value string) {
	if value == "" {
		return
	}

	f.conditions = append(f.conditions, column+" = ?")
	f.args = append(f.args, value)
}

// timeRange keeps rows whose [startCol, endCol] span overlaps the range
// given by the start and end form values.
func (f *queryFilter) timeRange(startCol, endCol, start, end string) {
	if start == "" || end == "" {
		return
	}

	startTime, err1 := strconv.ParseFloat(start, 64)
	endTime, err2 := strconv.ParseFloat(end, 64)
	if err1 != nil || err2 != nil {
		return
	}

	f.conditions = append(f.conditions, endCol+" > ?", startCol+" < ?")
	f.args = append(f.args, startTime, endTime)
}

func (f *queryFilter) where() string {
	if len(f.conditions) == 0 {
		return ""
	}

	where := f.conditions[0]
	for _, c := range f.conditions[1:] {
		where += " AND " + c
	}

	return where
}

func intParam(r *http.Request, name string, fallback int) int {
	value := r.FormValue(name)
	if value == "" {
		return fallback
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}

	return n
}

func writeJSON(w http.ResponseWriter, data any) {
	rsp, err := json.Marshal(data)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(rsp)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
