package engine

import (
	"sync"
	"time"

	"github.com/dagflow/dagflow/pkg/log"
	"github.com/dagflow/dagflow/pkg/metrics"
	"github.com/dagflow/dagflow/pkg/store"
	"github.com/dagflow/dagflow/pkg/types"
)

// EpochManager implements the epoch barrier: every registered source
// reports its (txid, seqno) state once per round through
// WaitForEpochClose, which blocks until every source has reported (or the
// idle interval elapses), then returns the sealed Epoch to every caller of
// that round at once.
//
// A source that is shutting down calls Deregister, which reduces the
// barrier count by one so the remaining sources are not stuck waiting for
// a peer that will never report again.
type EpochManager struct {
	mu   sync.Mutex
	cond *sync.Cond

	numSources int
	epochID    uint64

	reported  map[types.NodeHandle]types.SourceState
	lastKnown map[types.NodeHandle]types.SourceState
	sealed    map[uint64]types.Epoch
	sealErrs  map[uint64]error

	idleInterval time.Duration
	stopCh       chan struct{}
	stopped      bool

	openedAt time.Time

	st *store.Store
}

// NewEpochManager returns a manager for numSources sources. idleInterval
// bounds how long the manager waits for stragglers before sealing an
// epoch using whatever states have been reported so far, carrying forward
// the last known state of any source that did not report this round. st,
// if non-nil, is where each sealed epoch's checkpoint is durably written
// so a restarted engine can resume every source from (txid, seqno).
func NewEpochManager(numSources int, idleInterval time.Duration, st *store.Store) *EpochManager {
	m := &EpochManager{
		numSources:   numSources,
		reported:     make(map[types.NodeHandle]types.SourceState),
		lastKnown:    make(map[types.NodeHandle]types.SourceState),
		sealed:       make(map[uint64]types.Epoch),
		sealErrs:     make(map[uint64]error),
		idleInterval: idleInterval,
		stopCh:       make(chan struct{}),
		openedAt:     time.Now(),
		st:           st,
	}
	m.cond = sync.NewCond(&m.mu)
	if idleInterval > 0 {
		go m.idleSealer()
	}
	return m
}

// Stop halts the idle sealer goroutine. Safe to call more than once.
func (m *EpochManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
		m.cond.Broadcast()
	}
}

// WaitForEpochClose reports source's current state and blocks until the
// barrier for the in-progress epoch closes, returning the sealed Epoch.
func (m *EpochManager) WaitForEpochClose(source types.NodeHandle, state types.SourceState) (types.Epoch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	myEpoch := m.epochID
	m.reported[source] = state
	m.lastKnown[source] = state
	m.maybeSealLocked()

	for m.epochID == myEpoch && !m.stopped {
		m.cond.Wait()
	}

	sealed, ok := m.sealed[myEpoch]
	delete(m.sealed, myEpoch)
	if !ok {
		return types.Epoch{}, &EpochError{Node: source.String(), EpochID: myEpoch, Reason: "epoch manager stopped before sealing"}
	}
	if err, failed := m.sealErrs[myEpoch]; failed {
		delete(m.sealErrs, myEpoch)
		return types.Epoch{}, &StorageError{Node: source.String(), Op: "save checkpoint", Err: err}
	}
	return sealed, nil
}

// Deregister removes source from the barrier, reducing the number of
// sources the manager waits on. Called when a source is shutting down.
func (m *EpochManager) Deregister(source types.NodeHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numSources > 0 {
		m.numSources--
	}
	delete(m.reported, source)
	delete(m.lastKnown, source)
	m.maybeSealLocked()
}

func (m *EpochManager) maybeSealLocked() {
	if m.numSources > 0 && len(m.reported) >= m.numSources {
		m.sealLocked()
	}
}

func (m *EpochManager) sealLocked() {
	states := make(map[types.NodeHandle]types.SourceState, len(m.lastKnown))
	for h, s := range m.lastKnown {
		states[h] = s
	}
	epoch := types.Epoch{ID: m.epochID, SourceStates: states}
	m.sealed[m.epochID] = epoch

	logger := log.WithEpoch(epoch.ID)
	if m.st != nil {
		if err := m.persistCheckpoint(epoch); err != nil {
			m.sealErrs[epoch.ID] = err
			logger.Error().Err(err).Msg("checkpoint persist failed")
		} else {
			logger.Debug().Int("sources", len(states)).Msg("checkpoint persisted")
		}
	}

	m.epochID++
	m.reported = make(map[types.NodeHandle]types.SourceState)

	metrics.EpochSealDuration.Observe(time.Since(m.openedAt).Seconds())
	m.openedAt = time.Now()

	m.cond.Broadcast()
}

// persistCheckpoint durably writes epoch's checkpoint record in its own
// transaction, independent of whatever transaction any node's own commit
// is using.
func (m *EpochManager) persistCheckpoint(epoch types.Epoch) error {
	txn, err := m.st.BeginTxn(true)
	if err != nil {
		return err
	}
	if err := store.SaveCheckpoint(txn, epoch); err != nil {
		_ = txn.Abort()
		return err
	}
	return txn.Commit()
}

// idleSealer seals a new epoch every idleInterval if at least one source
// has reported new state since the last seal, even if not every source
// has reported this round — this is what lets a quiet source's last known
// state still get checkpointed (scenario: one source goes idle after its
// initial burst).
func (m *EpochManager) idleSealer() {
	ticker := time.NewTicker(m.idleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			if len(m.reported) > 0 {
				m.sealLocked()
				metrics.EpochIdleSealsTotal.Inc()
				log.WithComponent("epoch-manager").Debug().Msg("epoch sealed by idle ticker")
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}
