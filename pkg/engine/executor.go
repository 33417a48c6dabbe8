package engine

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/dagflow/dagflow/pkg/dag"
	"github.com/dagflow/dagflow/pkg/exec"
	"github.com/dagflow/dagflow/pkg/log"
	"github.com/dagflow/dagflow/pkg/metrics"
	"github.com/dagflow/dagflow/pkg/store"
	"github.com/dagflow/dagflow/pkg/types"
)

// Checkpoints supplies the last recorded SourceState for a source node, if
// any, so a restarted executor can resume from where it left off.
type Checkpoints map[types.NodeHandle]types.SourceState

// Options configures Start.
type Options struct {
	// ChannelCapacity sizes every edge's bounded channel.
	ChannelCapacity int
	// IdleEpochInterval bounds how long the Epoch Manager waits for
	// stragglers before sealing an epoch from whatever has reported.
	IdleEpochInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChannelCapacity <= 0 {
		o.ChannelCapacity = exec.DefaultChannelCapacity
	}
	if o.IdleEpochInterval <= 0 {
		o.IdleEpochInterval = 5 * time.Second
	}
	return o
}

// ExecutionHandle is returned by Start; Join blocks until every worker has
// exited, and Stop requests shutdown without waiting.
type ExecutionHandle struct {
	wg       sync.WaitGroup
	shutdown *exec.ShutdownToken
	epochMgr *EpochManager

	errMu    sync.Mutex
	firstErr error

	pub Publisher

	stopMu    sync.Mutex
	stoppedAt time.Time
}

// Stop requests cooperative shutdown of every worker without blocking.
func (h *ExecutionHandle) Stop() {
	h.stopMu.Lock()
	if h.stoppedAt.IsZero() {
		h.stoppedAt = time.Now()
	}
	h.stopMu.Unlock()
	h.shutdown.Trigger()
}

// Join blocks until every worker has exited and returns the first
// non-shutdown error recorded by any of them, if any.
func (h *ExecutionHandle) Join() error {
	h.wg.Wait()
	h.epochMgr.Stop()

	h.stopMu.Lock()
	if !h.stoppedAt.IsZero() {
		metrics.ShutdownDuration.Observe(time.Since(h.stoppedAt).Seconds())
	}
	h.stopMu.Unlock()

	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.firstErr
}

func (h *ExecutionHandle) recordErr(err error) {
	if err == nil || errors.Is(err, exec.ErrShutdownRequested) {
		return
	}
	h.errMu.Lock()
	if h.firstErr == nil {
		h.firstErr = err
	}
	h.errMu.Unlock()
	h.shutdown.Trigger()
}

func (h *ExecutionHandle) recordNodeErr(node types.NodeHandle, err error) {
	if err != nil {
		metrics.NodeErrorsTotal.WithLabelValues(node.String(), nodeErrorStage(err)).Inc()
	}
	h.recordErr(err)
}

func nodeErrorStage(err error) string {
	switch err.(type) {
	case *StorageError:
		return "storage"
	case *SourceError:
		return "source"
	case *ProcessorError:
		return "processor"
	case *SinkError:
		return "sink"
	default:
		return "unknown"
	}
}

// Start builds the Execution DAG for d over st and spawns one worker
// goroutine per node. checkpoints supplies each source's last known state,
// if the engine is resuming from a prior run; pub, if non-nil, receives
// every Event the run publishes.
func Start(d *dag.BuilderDag, st *store.Store, checkpoints Checkpoints, pub Publisher, opts Options) (*ExecutionHandle, error) {
	opts = opts.withDefaults()

	ed, err := exec.Build(d, st, exec.Options{ChannelCapacity: opts.ChannelCapacity})
	if err != nil {
		return nil, fmt.Errorf("engine: wiring execution dag: %w", err)
	}

	numSources := 0
	for _, n := range d.Nodes {
		if n.IsSource() {
			numSources++
		}
	}

	h := &ExecutionHandle{
		shutdown: ed.Shutdown,
		epochMgr: NewEpochManager(numSources, opts.IdleEpochInterval, st),
		pub:      pub,
	}

	for _, n := range d.Nodes {
		n := n
		switch {
		case n.IsSource():
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				var last *types.SourceState
				if s, ok := checkpoints[n.Handle]; ok {
					last = &s
				}
				h.recordNodeErr(n.Handle, runSourceWorker(n, ed, st, h.epochMgr, h.pub, last))
			}()
		case n.IsProcessor():
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.recordNodeErr(n.Handle, runProcessorWorker(n, ed, st, h.pub))
			}()
		case n.IsSink():
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.recordNodeErr(n.Handle, runSinkWorker(n, ed, h.pub))
			}()
		}
	}

	return h, nil
}

func runSourceWorker(n dag.Node, ed *exec.ExecutionDag, st *store.Store, epochMgr *EpochManager, pub Publisher, last *types.SourceState) error {
	logger := log.WithNode(n.Handle.String())
	logger.Info().Bool("resumed", last != nil).Msg("source worker starting")
	defer logger.Info().Msg("source worker stopped")

	senders, err := ed.CollectSenders(n.Handle)
	if err != nil {
		return &SourceError{Node: n.Handle.String(), Err: err}
	}
	writers, err := ed.CollectRecordWriters(n.Handle)
	if err != nil {
		return &SourceError{Node: n.Handle.String(), Err: err}
	}

	factory, ok := n.SourceFactory.(SourceFactory)
	if !ok {
		return &SourceError{Node: n.Handle.String(), Err: fmt.Errorf("factory does not implement engine.SourceFactory")}
	}

	if pub != nil {
		for port, ps := range n.OutputSchemas {
			pub.PublishSchema(n.Handle, port, ps.Schema)
		}
	}

	source, err := factory.Build(senders, writers, last)
	if err != nil {
		return &SourceError{Node: n.Handle.String(), Err: err}
	}

	ing := newRuntimeIngestor(n.Handle, senders, epochMgr, ed.Shutdown)
	wrapped := &publishingIngestor{runtimeIngestor: ing, pub: pub, handle: n.Handle}

	err = source.Start(wrapped)

	epochMgr.Deregister(n.Handle)
	ing.emitTerminateAll()
	ed.CloseSenders(n.Handle)

	if err != nil {
		logger.Error().Err(err).Msg("source exited with error")
		return &SourceError{Node: n.Handle.String(), Err: err}
	}
	return nil
}

func runProcessorWorker(n dag.Node, ed *exec.ExecutionDag, st *store.Store, pub Publisher) error {
	logger := log.WithNode(n.Handle.String())
	logger.Info().Msg("processor worker starting")
	defer logger.Info().Msg("processor worker stopped")

	receivers, err := ed.CollectReceivers(n.Handle)
	if err != nil {
		return &ProcessorError{Node: n.Handle.String(), Err: err}
	}
	senders, err := ed.CollectSenders(n.Handle)
	if err != nil {
		return &ProcessorError{Node: n.Handle.String(), Err: err}
	}
	writers, err := ed.CollectRecordWriters(n.Handle)
	if err != nil {
		return &ProcessorError{Node: n.Handle.String(), Err: err}
	}

	factory, ok := n.ProcessorFactory.(ProcessorFactory)
	if !ok {
		return &ProcessorError{Node: n.Handle.String(), Err: fmt.Errorf("factory does not implement engine.ProcessorFactory")}
	}

	inputSchemas := make(map[types.PortHandle]types.Schema)
	for _, e := range ed.Source.InEdges(n.Handle) {
		inputSchemas[e.ToPort] = e.Schema
	}

	if pub != nil {
		for port, ps := range n.OutputSchemas {
			pub.PublishSchema(n.Handle, port, ps.Schema)
		}
	}

	proc, err := factory.Build(inputSchemas, senders, writers)
	if err != nil {
		return &ProcessorError{Node: n.Handle.String(), Err: err}
	}

	fw := newRuntimeForwarder(senders)
	nodeTxnPrefix := store.NodePrefix(n.Index)

	ports := make([]types.PortHandle, 0, len(receivers))
	cases := make([]reflect.SelectCase, 0, len(receivers))
	for port, recv := range receivers {
		ports = append(ports, port)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(recv.Chan())})
	}

	tracker := newPortTracker(ports)

	for {
		chosen, value, ok := reflect.Select(cases)
		fromPort := ports[chosen]
		if !ok {
			logger.Error().Uint16("port", uint16(fromPort)).Msg("input channel disconnected")
			return &ProcessorError{Node: n.Handle.String(), Err: &exec.ChannelDisconnectedError{Node: n.Handle, Port: fromPort}}
		}
		op := value.Interface().(types.Operation)

		if pub != nil {
			pub.PublishOp(n.Handle, fromPort, op)
		}

		switch op.Kind {
		case types.OpSnapshottingDone:
			if tracker.markSnapshottingDone(fromPort) {
				if err := fw.forwardToAll(types.SnapshottingDone()); err != nil {
					return &ProcessorError{Node: n.Handle.String(), Err: err}
				}
			}

		case types.OpCommit:
			if tracker.markCommit(fromPort, op.Epoch.ID) {
				timer := metrics.NewTimer()
				txn, err := st.BeginTxn(true)
				if err != nil {
					return &StorageError{Node: n.Handle.String(), Op: "begin commit txn", Err: err}
				}
				pt := txn.Prefix(nodeTxnPrefix)
				if err := proc.Commit(op.Epoch, pt); err != nil {
					_ = txn.Abort()
					return &ProcessorError{Node: n.Handle.String(), Err: err}
				}
				if err := txn.Commit(); err != nil {
					return &StorageError{Node: n.Handle.String(), Op: "commit", Err: err}
				}
				timer.ObserveDurationVec(metrics.CommitDuration, n.Handle.String())
				metrics.EpochsSealedTotal.Inc()
				log.WithEpoch(op.Epoch.ID).Debug().Str("node", n.Handle.String()).Msg("epoch committed")
				if err := fw.forwardToAll(types.Commit(op.Epoch)); err != nil {
					return &ProcessorError{Node: n.Handle.String(), Err: err}
				}
				if pub != nil {
					pub.PublishEpochSealed(op.Epoch)
				}
				tracker.resetAfterBarrier()
			}

		case types.OpTerminate:
			if tracker.markTerminate(fromPort) {
				fw.forwardTerminateAll()
				ed.CloseSenders(n.Handle)
				return nil
			}
			// The upstream closes this channel next; stop selecting on it.
			cases[chosen].Chan = reflect.Value{}

		default:
			timer := metrics.NewTimer()
			txn, err := st.BeginTxn(true)
			if err != nil {
				return &StorageError{Node: n.Handle.String(), Op: "begin process txn", Err: err}
			}
			pt := txn.Prefix(nodeTxnPrefix)
			if err := proc.Process(fromPort, op, fw, pt); err != nil {
				_ = txn.Abort()
				log.WithPort(n.Handle.String(), uint16(fromPort)).Error().Err(err).Msg("process failed")
				return &ProcessorError{Node: n.Handle.String(), Err: err}
			}
			if err := txn.Commit(); err != nil {
				return &StorageError{Node: n.Handle.String(), Op: "commit", Err: err}
			}
			timer.ObserveDurationVec(metrics.ProcessingDuration, n.Handle.String())
			metrics.RecordsProcessedTotal.WithLabelValues(n.Handle.String(), op.Kind.String()).Inc()
		}
	}
}

func runSinkWorker(n dag.Node, ed *exec.ExecutionDag, pub Publisher) error {
	logger := log.WithNode(n.Handle.String())
	logger.Info().Msg("sink worker starting")
	defer logger.Info().Msg("sink worker stopped")

	receivers, err := ed.CollectReceivers(n.Handle)
	if err != nil {
		return &SinkError{Node: n.Handle.String(), Err: err}
	}

	factory, ok := n.SinkFactory.(SinkFactory)
	if !ok {
		return &SinkError{Node: n.Handle.String(), Err: fmt.Errorf("factory does not implement engine.SinkFactory")}
	}

	sink, err := factory.Build()
	if err != nil {
		return &SinkError{Node: n.Handle.String(), Err: err}
	}

	ports := make([]types.PortHandle, 0, len(receivers))
	cases := make([]reflect.SelectCase, 0, len(receivers))
	for port, recv := range receivers {
		ports = append(ports, port)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(recv.Chan())})
	}

	tracker := newPortTracker(ports)

	for {
		chosen, value, ok := reflect.Select(cases)
		fromPort := ports[chosen]
		if !ok {
			logger.Error().Uint16("port", uint16(fromPort)).Msg("input channel disconnected")
			return &SinkError{Node: n.Handle.String(), Err: &exec.ChannelDisconnectedError{Node: n.Handle, Port: fromPort}}
		}
		op := value.Interface().(types.Operation)

		if pub != nil {
			pub.PublishOp(n.Handle, fromPort, op)
		}

		switch op.Kind {
		case types.OpSnapshottingDone:
			tracker.markSnapshottingDone(fromPort)

		case types.OpCommit:
			if tracker.markCommit(fromPort, op.Epoch.ID) {
				timer := metrics.NewTimer()
				if err := sink.Commit(op.Epoch); err != nil {
					return &SinkError{Node: n.Handle.String(), Err: err}
				}
				timer.ObserveDurationVec(metrics.CommitDuration, n.Handle.String())
				metrics.EpochsSealedTotal.Inc()
				log.WithEpoch(op.Epoch.ID).Debug().Str("node", n.Handle.String()).Msg("epoch committed")
				if pub != nil {
					pub.PublishEpochSealed(op.Epoch)
				}
				tracker.resetAfterBarrier()
			}

		case types.OpTerminate:
			if tracker.markTerminate(fromPort) {
				return nil
			}
			// The upstream closes this channel next; stop selecting on it.
			cases[chosen].Chan = reflect.Value{}

		default:
			timer := metrics.NewTimer()
			if err := sink.Process(fromPort, op); err != nil {
				log.WithPort(n.Handle.String(), uint16(fromPort)).Error().Err(err).Msg("process failed")
				return &SinkError{Node: n.Handle.String(), Err: err}
			}
			timer.ObserveDurationVec(metrics.ProcessingDuration, n.Handle.String())
			metrics.RecordsProcessedTotal.WithLabelValues(n.Handle.String(), op.Kind.String()).Inc()
		}
	}
}
