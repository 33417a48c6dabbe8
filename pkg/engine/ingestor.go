package engine

import (
	"github.com/dagflow/dagflow/pkg/exec"
	"github.com/dagflow/dagflow/pkg/types"
)

// runtimeIngestor is the concrete Ingestor handed to a source's Start
// method by the source worker.
type runtimeIngestor struct {
	handle   types.NodeHandle
	senders  map[types.PortHandle][]*exec.Sender
	epochMgr *EpochManager
	shutdown *exec.ShutdownToken
}

func newRuntimeIngestor(handle types.NodeHandle, senders map[types.PortHandle][]*exec.Sender, epochMgr *EpochManager, shutdown *exec.ShutdownToken) *runtimeIngestor {
	return &runtimeIngestor{handle: handle, senders: senders, epochMgr: epochMgr, shutdown: shutdown}
}

func (r *runtimeIngestor) Emit(port types.PortHandle, op types.Operation) error {
	for _, s := range r.senders[port] {
		if err := s.Send(op); err != nil {
			return err
		}
	}
	return nil
}

func (r *runtimeIngestor) broadcastToAllOutputs(op types.Operation) error {
	for port := range r.senders {
		if err := r.Emit(port, op); err != nil {
			return err
		}
	}
	return nil
}

func (r *runtimeIngestor) SnapshottingDone() error {
	return r.broadcastToAllOutputs(types.SnapshottingDone())
}

func (r *runtimeIngestor) ReportState(state types.SourceState) (types.Epoch, error) {
	epoch, err := r.epochMgr.WaitForEpochClose(r.handle, state)
	if err != nil {
		return types.Epoch{}, err
	}
	if err := r.broadcastToAllOutputs(types.Commit(epoch)); err != nil {
		return types.Epoch{}, err
	}
	return epoch, nil
}

func (r *runtimeIngestor) Done() <-chan struct{} {
	return r.shutdown.Done()
}

// emitTerminateAll unconditionally delivers Terminate on every output
// port, even after shutdown has been requested — draining must still
// complete.
func (r *runtimeIngestor) emitTerminateAll() {
	for _, senders := range r.senders {
		for _, s := range senders {
			s.SendFinal(types.Terminate())
		}
	}
}

// publishingIngestor wraps a runtimeIngestor so every emitted operation
// also reaches the broadcast fan-out, when one is configured.
type publishingIngestor struct {
	*runtimeIngestor
	pub    Publisher
	handle types.NodeHandle
}

func (p *publishingIngestor) Emit(port types.PortHandle, op types.Operation) error {
	if p.pub != nil {
		p.pub.PublishOp(p.handle, port, op)
	}
	return p.runtimeIngestor.Emit(port, op)
}
