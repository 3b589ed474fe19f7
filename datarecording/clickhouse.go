package datarecording

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/tebeka/atexit"
)

// clickHouseWriter is a DataRecorder that writes into a ClickHouse database
// over the native protocol. Entries are buffered and sent in batches.
type clickHouseWriter struct {
	conn driver.Conn
	mu   sync.Mutex

	batchSize  int
	tables     map[string]*table
	entryCount int
}

// NewClickHouse creates a DataRecorder that records into a ClickHouse
// database. The execution environment is recorded into the `exec_info`
// table.
func NewClickHouse(
	host string,
	port int,
	database string,
	username string,
	password string,
	batchSize int,
) DataRecorder {
	if batchSize == 0 {
		batchSize = 100000
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", host, port)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     time.Second * 30,
		MaxOpenConns:    5,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		panic(fmt.Errorf("failed to connect to ClickHouse: %w", err))
	}

	if err := conn.Ping(context.Background()); err != nil {
		panic(fmt.Errorf("failed to ping ClickHouse: %w", err))
	}

	w := &clickHouseWriter{
		conn:      conn,
		batchSize: batchSize,
		tables:    make(map[string]*table),
	}

	exec := newExecRecorder(w)
	exec.Start()

	atexit.Register(func() {
		exec.End()
		w.Flush()
	})

	return w
}

func (w *clickHouseWriter) CreateTable(tableName string, sampleEntry any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	createSQL := w.createTableSQL(tableName, sampleEntry)

	err := w.conn.Exec(context.Background(), createSQL)
	if err != nil {
		panic(fmt.Errorf("failed to create table %s: %w", tableName, err))
	}

	w.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
		entries:    []any{},
	}
}

func (w *clickHouseWriter) createTableSQL(
	tableName string,
	sampleEntry any,
) string {
	types := reflect.TypeOf(sampleEntry)

	columns := make([]string, 0, types.NumField())
	orderBy := make([]string, 0)

	for i := 0; i < types.NumField(); i++ {
		field := types.Field(i)

		columns = append(columns, fmt.Sprintf("%s %s",
			field.Name, w.columnType(field)))

		tag, ok := field.Tag.Lookup("shiba_data")
		if ok && (tag == "index" || tag == "unique") {
			orderBy = append(orderBy, field.Name)
		}
	}

	orderByClause := "tuple()"
	if len(orderBy) > 0 {
		orderByClause = "(" + strings.Join(orderBy, ", ") + ")"
	}

	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n\t%s\n) "+
			"ENGINE = MergeTree()\nORDER BY %s",
		tableName,
		strings.Join(columns, ",\n\t"),
		orderByClause,
	)
}

func (w *clickHouseWriter) columnType(field reflect.StructField) string {
	switch field.Type.Kind() {
	case reflect.Bool:
		return "Bool"
	case reflect.Int8:
		return "Int8"
	case reflect.Int16:
		return "Int16"
	case reflect.Int32:
		return "Int32"
	case reflect.Int, reflect.Int64:
		return "Int64"
	case reflect.Uint8:
		return "UInt8"
	case reflect.Uint16:
		return "UInt16"
	case reflect.Uint32:
		return "UInt32"
	case reflect.Uint, reflect.Uint64:
		return "UInt64"
	case reflect.Float32:
		return "Float32"
	case reflect.Float64:
		return "Float64"
	case reflect.String:
		return "String"
	default:
		panic(fmt.Sprintf("field %s has unsupported type %s",
			field.Name, field.Type))
	}
}

func (w *clickHouseWriter) InsertData(tableName string, entry any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	table, exists := w.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	table.entries = append(table.entries, entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		w.flush()
	}
}

func (w *clickHouseWriter) ListTables() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	tables := make([]string, 0, len(w.tables))
	for table := range w.tables {
		tables = append(tables, table)
	}

	return tables
}

func (w *clickHouseWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.flush()
}

func (w *clickHouseWriter) flush() {
	if w.entryCount == 0 {
		return
	}

	ctx := context.Background()

	for tableName, table := range w.tables {
		if len(table.entries) == 0 {
			continue
		}

		batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+tableName)
		if err != nil {
			panic(err)
		}

		for _, entry := range table.entries {
			v := []any{}

			value := reflect.ValueOf(entry)
			for i := 0; i < value.NumField(); i++ {
				v = append(v, value.Field(i).Interface())
			}

			err := batch.Append(v...)
			if err != nil {
				panic(err)
			}
		}

		err = batch.Send()
		if err != nil {
			panic(err)
		}

		table.entries = nil
	}

	w.entryCount = 0
}

// Close flushes the buffered entries and closes the connection.
func (w *clickHouseWriter) Close() error {
	w.Flush()
	return w.conn.Close()
}
