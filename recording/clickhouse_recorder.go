package recording

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/tebeka/atexit"
)

// ClickHouseRecorder is a DataRecorder that batches step and eviction
// entries into ClickHouse. It only accepts the trace tables this package
// defines; the generic reflection path of the SQLite writer does not suit
// ClickHouse's typed batch interface.
type ClickHouseRecorder struct {
	conn      clickhouse.Conn
	mu        sync.Mutex
	batchSize int

	stepBatch     []StepEntry
	evictionBatch []EvictionEntry

	tables     map[string]bool
	entryCount int
}

// NewClickHouseRecorder connects to ClickHouse and returns a recorder. A
// zero batchSize picks a default.
func NewClickHouseRecorder(
	host string,
	port int,
	database, username, password string,
	batchSize int,
) *ClickHouseRecorder {
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
		DialTimeout:      time.Second * 30,
		MaxOpenConns:     5,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		panic(fmt.Errorf("failed to connect to ClickHouse: %w", err))
	}

	if err := conn.Ping(context.Background()); err != nil {
		panic(fmt.Errorf("failed to ping ClickHouse: %w", err))
	}

	recorder := &ClickHouseRecorder{
		conn:      conn,
		batchSize: batchSize,
		tables:    make(map[string]bool),
	}

	atexit.Register(func() { recorder.Flush() })

	return recorder
}

// CreateTable creates a trace table with a ClickHouse-native schema.
func (r *ClickHouseRecorder) CreateTable(tableName string, sampleEntry any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var createSQL string
	switch sampleEntry.(type) {
	case StepEntry:
		createSQL = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				ID String,
				Engine String,
				Step Int64,
				Batch Int64,
				NewNodes Int64,
				LiveNodes Int64,
				Edges Int64,
				Evicted Int64,
				DurationMS Float64
			) ENGINE = MergeTree()
			ORDER BY (Engine, Step)
		`, tableName)
	case EvictionEntry:
		createSQL = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				ID String,
				Engine String,
				Step Int64,
				Batch Int64,
				Dropped Int64,
				Live Int64
			) ENGINE = MergeTree()
			ORDER BY (Engine, Step)
		`, tableName)
	default:
		panic(fmt.Sprintf(
			"ClickHouseRecorder does not support entry type %T", sampleEntry))
	}

	err := r.conn.Exec(context.Background(), createSQL)
	if err != nil {
		panic(fmt.Errorf("failed to create table %s: %w", tableName, err))
	}

	r.tables[tableName] = true
}

// InsertData buffers one entry; full buffers flush automatically.
func (r *ClickHouseRecorder) InsertData(tableName string, entry any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.tables[tableName] {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	switch e := entry.(type) {
	case StepEntry:
		r.stepBatch = append(r.stepBatch, e)
	case EvictionEntry:
		r.evictionBatch = append(r.evictionBatch, e)
	default:
		panic(fmt.Sprintf(
			"ClickHouseRecorder does not support entry type %T", entry))
	}

	r.entryCount++
	if r.entryCount >= r.batchSize {
		r.flushLocked()
	}
}

// ListTables returns the names of the created tables.
func (r *ClickHouseRecorder) ListTables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	tables := make([]string, 0, len(r.tables))
	for table := range r.tables {
		tables = append(tables, table)
	}

	return tables
}

// Flush writes all buffered entries.
func (r *ClickHouseRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flushLocked()
}

// Close flushes and closes the connection.
func (r *ClickHouseRecorder) Close() error {
	r.Flush()
	return r.conn.Close()
}

func (r *ClickHouseRecorder) flushLocked() {
	ctx := context.Background()

	if len(r.stepBatch) > 0 {
		batch, err := r.conn.PrepareBatch(
			ctx, "INSERT INTO "+StepTableName)
		if err != nil {
			panic(err)
		}

		for _, e := range r.stepBatch {
			err := batch.Append(
				e.ID, e.Engine,
				int64(e.Step), int64(e.Batch),
				int64(e.NewNodes), int64(e.LiveNodes),
				int64(e.Edges), int64(e.Evicted),
				e.DurationMS,
			)
			if err != nil {
				panic(err)
			}
		}

		if err := batch.Send(); err != nil {
			panic(err)
		}

		r.stepBatch = nil
	}

	if len(r.evictionBatch) > 0 {
		batch, err := r.conn.PrepareBatch(
			ctx, "INSERT INTO "+EvictionTableName)
		if err != nil {
			panic(err)
		}

		for _, e := range r.evictionBatch {
			err := batch.Append(
				e.ID, e.Engine,
				int64(e.Step), int64(e.Batch),
				int64(e.Dropped), int64(e.Live),
			)
			if err != nil {
				panic(err)
			}
		}

		if err := batch.Send(); err != nil {
			panic(err)
		}

		r.evictionBatch = nil
	}

	r.entryCount = 0
}
