// Package pgsource implements a polling SourceFactory over a Postgres
// table, using database/sql with the lib/pq driver. It has no access to
// logical replication; it polls a (updated_at, id) cursor instead, which is
// the simplest honest mapping of a plain table onto the engine's
// Insert/Update/epoch protocol when no change feed is available.
package pgsource

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/dagflow/dagflow/pkg/dag"
	"github.com/dagflow/dagflow/pkg/engine"
	"github.com/dagflow/dagflow/pkg/exec"
	"github.com/dagflow/dagflow/pkg/log"
	"github.com/dagflow/dagflow/pkg/store"
	"github.com/dagflow/dagflow/pkg/types"
)

// outputPort is the only output port a pgsource node exposes.
const outputPort types.PortHandle = 0

// Column describes one non-key column pulled from the table, beyond the id
// and updated-at cursor columns every pgsource table must carry.
type Column struct {
	Name string
	Type types.FieldType
}

// Config configures a pgsource node.
type Config struct {
	DSN             string
	Table           string
	IDColumn        string
	UpdatedAtColumn string
	Columns         []Column
	PollInterval    time.Duration
	BatchSize       int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	return c
}

// Factory is the SourceFactory for a pgsource node. It satisfies
// engine.SourceFactory structurally: OutputPorts/OutputSchemas are its
// build-time face to pkg/dag, Build is its runtime face to pkg/engine.
type Factory struct {
	cfg    Config
	schema types.Schema
}

// NewFactory builds a Factory for the given table config.
func NewFactory(cfg Config) *Factory {
	cfg = cfg.withDefaults()
	fields := []types.FieldDefinition{
		{Name: cfg.IDColumn, Type: types.FieldTypeInt},
		{Name: cfg.UpdatedAtColumn, Type: types.FieldTypeTimestamp},
	}
	for _, c := range cfg.Columns {
		fields = append(fields, types.FieldDefinition{Name: c.Name, Type: c.Type, Nullable: true})
	}
	return &Factory{
		cfg:    cfg,
		schema: types.Schema{Fields: fields, PrimaryKey: []int{0}},
	}
}

func (f *Factory) OutputPorts() []types.PortHandle { return []types.PortHandle{outputPort} }

func (f *Factory) OutputSchemas() (map[types.PortHandle]dag.PortSchema, error) {
	return map[types.PortHandle]dag.PortSchema{
		outputPort: {Schema: f.schema, Persist: types.PersistencePrimaryKey},
	}, nil
}

// Build opens the database connection and returns a Source ready to be
// started by the executor's source worker.
func (f *Factory) Build(senders map[types.PortHandle][]*exec.Sender, writers map[types.PortHandle]store.RecordWriter, lastCheckpoint *types.SourceState) (engine.Source, error) {
	db, err := sql.Open("postgres", f.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgsource: open %s: %w", f.cfg.Table, err)
	}

	var cursor types.SourceState
	if lastCheckpoint != nil {
		cursor = *lastCheckpoint
	}

	return &source{
		cfg:     f.cfg,
		schema:  f.schema,
		db:      db,
		senders: senders[outputPort],
		cursor:  cursor,
		logger:  log.WithComponent("pgsource"),
	}, nil
}

type source struct {
	cfg    Config
	schema types.Schema
	db     *sql.DB

	senders []*exec.Sender
	cursor  types.SourceState // TxID is the last id seen; SeqNo is its updated_at as unix nanos
	seen    map[int64]bool

	logger zerolog.Logger
}

func (s *source) Start(ing engine.Ingestor) error {
	s.seen = make(map[int64]bool)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	first := true
	for {
		n, err := s.pollOnce()
		if err != nil {
			return fmt.Errorf("pgsource: poll %s: %w", s.cfg.Table, err)
		}
		if first {
			if err := ing.SnapshottingDone(); err != nil {
				return err
			}
			first = false
		}
		if n > 0 || first {
			if _, err := ing.ReportState(s.cursor); err != nil {
				return err
			}
		}

		select {
		case <-ticker.C:
		case <-ing.Done():
			return nil
		}
	}
}

func (s *source) pollOnce() (int, error) {
	query := fmt.Sprintf(
		"SELECT %s, %s%s FROM %s WHERE %s > $1 OR (%s = $1 AND %s > $2) ORDER BY %s, %s LIMIT %d",
		s.cfg.IDColumn, s.cfg.UpdatedAtColumn, extraColumnList(s.cfg.Columns), s.cfg.Table,
		s.cfg.UpdatedAtColumn, s.cfg.UpdatedAtColumn, s.cfg.IDColumn,
		s.cfg.UpdatedAtColumn, s.cfg.IDColumn, s.cfg.BatchSize,
	)

	lastUpdatedAt := time.Unix(0, int64(s.cursor.SeqNo))
	rows, err := s.db.Query(query, lastUpdatedAt, s.cursor.TxID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		dest := make([]interface{}, 2+len(s.cfg.Columns))
		var id int64
		var updatedAt time.Time
		dest[0] = &id
		dest[1] = &updatedAt
		rawExtra := make([]sql.RawBytes, len(s.cfg.Columns))
		for i := range s.cfg.Columns {
			dest[2+i] = &rawExtra[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return count, err
		}

		fields := make([]types.Field, 0, 2+len(s.cfg.Columns))
		fields = append(fields, types.IntField(id), types.TimestampField(updatedAt))
		for i, c := range s.cfg.Columns {
			fields = append(fields, decodeColumn(c.Type, rawExtra[i]))
		}
		rec := types.Record{Fields: fields, SchemaID: &s.schema.ID}

		op := types.Insert(rec)
		if s.seen[id] {
			op = types.Update(rec, rec)
		}
		s.seen[id] = true

		if err := emit(s.senders, op); err != nil {
			return count, err
		}

		s.cursor = types.SourceState{TxID: uint64(id), SeqNo: uint64(updatedAt.UnixNano())}
		count++
	}
	if count > 0 {
		s.logger.Info().Int("rows", count).Str("table", s.cfg.Table).Msg("polled rows")
	}
	return count, rows.Err()
}

func emit(senders []*exec.Sender, op types.Operation) error {
	for _, s := range senders {
		if err := s.Send(op); err != nil {
			return err
		}
	}
	return nil
}

func extraColumnList(cols []Column) string {
	out := ""
	for _, c := range cols {
		out += ", " + c.Name
	}
	return out
}

func decodeColumn(t types.FieldType, raw sql.RawBytes) types.Field {
	if raw == nil {
		return types.NullField()
	}
	switch t {
	case types.FieldTypeString:
		return types.StringField(string(raw))
	case types.FieldTypeBinary:
		b := make([]byte, len(raw))
		copy(b, raw)
		return types.BinaryField(b)
	default:
		return types.StringField(string(raw))
	}
}
