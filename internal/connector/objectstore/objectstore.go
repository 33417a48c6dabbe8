// Package objectstore implements both a SourceFactory and a SinkFactory
// over an S3-compatible bucket, using the minio-go v6 client. The source is
// a snapshot scan — it has no native change feed, so it lists the bucket
// once, emits one Insert per object keyed by its object key, and then signals
// SnapshottingDone. The sink mirrors Insert/Update/Delete operations onto
// objects in a (possibly different) bucket, one object per record.
package objectstore

import (
	"bytes"
	"fmt"

	minio "github.com/minio/minio-go"
	"github.com/rs/zerolog"

	"github.com/dagflow/dagflow/pkg/dag"
	"github.com/dagflow/dagflow/pkg/engine"
	"github.com/dagflow/dagflow/pkg/exec"
	"github.com/dagflow/dagflow/pkg/log"
	"github.com/dagflow/dagflow/pkg/store"
	"github.com/dagflow/dagflow/pkg/types"
)

const outputPort types.PortHandle = 0
const inputPort types.PortHandle = 0

var objectSchema = types.Schema{
	Fields: []types.FieldDefinition{
		{Name: "key", Type: types.FieldTypeString},
		{Name: "size", Type: types.FieldTypeInt},
		{Name: "etag", Type: types.FieldTypeString},
		{Name: "last_modified", Type: types.FieldTypeTimestamp},
		{Name: "body", Type: types.FieldTypeBinary, Nullable: true},
	},
	PrimaryKey: []int{0},
}

// Config configures a client connection shared by SourceFactory and
// SinkFactory.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
	Prefix    string
}

func newClient(cfg Config) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Secure)
}

// SourceFactory lists objects under Config.Prefix once and emits an Insert
// per object; it never reports further changes after the initial scan, so
// it calls ReportState exactly once after SnapshottingDone.
type SourceFactory struct {
	cfg Config
}

// NewSourceFactory builds a SourceFactory over the given bucket/prefix.
func NewSourceFactory(cfg Config) *SourceFactory { return &SourceFactory{cfg: cfg} }

func (f *SourceFactory) OutputPorts() []types.PortHandle { return []types.PortHandle{outputPort} }

func (f *SourceFactory) OutputSchemas() (map[types.PortHandle]dag.PortSchema, error) {
	return map[types.PortHandle]dag.PortSchema{
		outputPort: {Schema: objectSchema, Persist: types.PersistencePrimaryKey},
	}, nil
}

func (f *SourceFactory) Build(senders map[types.PortHandle][]*exec.Sender, writers map[types.PortHandle]store.RecordWriter, lastCheckpoint *types.SourceState) (engine.Source, error) {
	client, err := newClient(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("objectstore: build client: %w", err)
	}
	return &source{cfg: f.cfg, client: client, senders: senders[outputPort], logger: log.WithComponent("objectstore-source")}, nil
}

type source struct {
	cfg     Config
	client  *minio.Client
	senders []*exec.Sender
	logger  zerolog.Logger
}

func (s *source) Start(ing engine.Ingestor) error {
	doneCh := make(chan struct{})
	defer close(doneCh)

	seqNo := uint64(0)
	for obj := range s.client.ListObjects(s.cfg.Bucket, s.cfg.Prefix, true, doneCh) {
		if obj.Err != nil {
			return fmt.Errorf("objectstore: list %s: %w", s.cfg.Bucket, obj.Err)
		}

		rec := types.Record{Fields: []types.Field{
			types.StringField(obj.Key),
			types.IntField(obj.Size),
			types.StringField(obj.ETag),
			types.TimestampField(obj.LastModified),
			types.NullField(),
		}}

		if err := emit(s.senders, types.Insert(rec)); err != nil {
			return err
		}
		seqNo++

		select {
		case <-ing.Done():
			return nil
		default:
		}
	}

	s.logger.Info().Uint64("objects", seqNo).Str("bucket", s.cfg.Bucket).Msg("initial scan complete")

	if err := ing.SnapshottingDone(); err != nil {
		return err
	}
	if _, err := ing.ReportState(types.SourceState{TxID: 0, SeqNo: seqNo}); err != nil {
		return err
	}

	<-ing.Done()
	return nil
}

func emit(senders []*exec.Sender, op types.Operation) error {
	for _, s := range senders {
		if err := s.Send(op); err != nil {
			return err
		}
	}
	return nil
}

// SinkFactory mirrors operations on its single input port onto objects in
// Config.Bucket, one object per record keyed by the record's "key" field.
type SinkFactory struct {
	cfg Config
}

// NewSinkFactory builds a SinkFactory writing into the given bucket.
func NewSinkFactory(cfg Config) *SinkFactory { return &SinkFactory{cfg: cfg} }

func (f *SinkFactory) InputPorts() []types.PortHandle { return []types.PortHandle{inputPort} }

func (f *SinkFactory) Build() (engine.Sink, error) {
	client, err := newClient(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("objectstore: build client: %w", err)
	}
	return &sink{cfg: f.cfg, client: client, logger: log.WithComponent("objectstore-sink")}, nil
}

type sink struct {
	cfg    Config
	client *minio.Client
	logger zerolog.Logger
}

func (s *sink) Process(fromPort types.PortHandle, op types.Operation) error {
	switch op.Kind {
	case types.OpInsert, types.OpUpdate:
		return s.put(op.New)
	case types.OpDelete:
		return s.delete(op.Old)
	default:
		return nil
	}
}

func (s *sink) Commit(epoch types.Epoch) error {
	return nil
}

func (s *sink) put(rec types.Record) error {
	key := rec.Fields[0].StrVal
	body := rec.Fields[4].BinVal
	_, err := s.client.PutObject(s.cfg.Bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}

func (s *sink) delete(rec types.Record) error {
	key := rec.Fields[0].StrVal
	if err := s.client.RemoveObject(s.cfg.Bucket, key); err != nil {
		return fmt.Errorf("objectstore: delete %s: %w", key, err)
	}
	return nil
}
