package engine

import "github.com/dagflow/dagflow/pkg/types"

type inputPhase int

const (
	phaseIdle inputPhase = iota
	phaseLive
	phaseAwaitingBarrier
	phaseTerminated
)

// portTracker implements the per-node aggregation of the per-input-port
// state machine: Idle -> Live on SnapshottingDone, Live -> AwaitingBarrier
// on Commit(e), back to Live once every port has reached e, Live ->
// Terminated, with the node-level side effect (commit+forward, or
// forward+close) firing only once every port agrees.
type portTracker struct {
	phase         map[types.PortHandle]inputPhase
	awaitingEpoch map[types.PortHandle]uint64
	ports         []types.PortHandle
}

func newPortTracker(ports []types.PortHandle) *portTracker {
	t := &portTracker{
		phase:         make(map[types.PortHandle]inputPhase, len(ports)),
		awaitingEpoch: make(map[types.PortHandle]uint64, len(ports)),
		ports:         ports,
	}
	for _, p := range ports {
		t.phase[p] = phaseIdle
	}
	return t
}

// markSnapshottingDone records that port is now live and reports whether
// every port has now gone live for the first time.
func (t *portTracker) markSnapshottingDone(port types.PortHandle) bool {
	t.phase[port] = phaseLive
	for _, p := range t.ports {
		if t.phase[p] == phaseIdle {
			return false
		}
	}
	return true
}

// markCommit records that port observed Commit(epochID) and reports
// whether every port is now awaiting the same epoch. On true, the caller
// must run the commit side effect and then call resetAfterBarrier.
func (t *portTracker) markCommit(port types.PortHandle, epochID uint64) bool {
	t.phase[port] = phaseAwaitingBarrier
	t.awaitingEpoch[port] = epochID
	for _, p := range t.ports {
		if t.phase[p] != phaseAwaitingBarrier || t.awaitingEpoch[p] != epochID {
			return false
		}
	}
	return true
}

func (t *portTracker) resetAfterBarrier() {
	for _, p := range t.ports {
		t.phase[p] = phaseLive
	}
}

// markTerminate records that port observed Terminate and reports whether
// every port has now terminated.
func (t *portTracker) markTerminate(port types.PortHandle) bool {
	t.phase[port] = phaseTerminated
	for _, p := range t.ports {
		if t.phase[p] != phaseTerminated {
			return false
		}
	}
	return true
}
