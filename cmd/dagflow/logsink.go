package main

import (
	"github.com/rs/zerolog"

	"github.com/dagflow/dagflow/pkg/dag"
	"github.com/dagflow/dagflow/pkg/engine"
	"github.com/dagflow/dagflow/pkg/log"
	"github.com/dagflow/dagflow/pkg/types"
)

const logSinkInputPort types.PortHandle = 0

// logSinkFactory is a demo sink: it accepts any single input port and logs
// every operation it receives rather than calling a downstream system. It
// exists only to give the CLI demo something to connect every source to
// without needing a second live external system configured.
type logSinkFactory struct{}

func (f *logSinkFactory) InputPorts() []types.PortHandle { return []types.PortHandle{logSinkInputPort} }

func (f *logSinkFactory) Build() (engine.Sink, error) {
	return &logSink{logger: log.WithComponent("logsink")}, nil
}

type logSink struct {
	logger zerolog.Logger
}

func (s *logSink) Process(fromPort types.PortHandle, op types.Operation) error {
	s.logger.Info().
		Str("kind", op.Kind.String()).
		Uint64("epoch", op.Epoch.ID).
		Msg("operation")
	return nil
}

func (s *logSink) Commit(epoch types.Epoch) error {
	s.logger.Info().Uint64("epoch", epoch.ID).Msg("epoch committed")
	return nil
}

var _ dag.SinkFactory = (*logSinkFactory)(nil)
