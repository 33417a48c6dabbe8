/*
Package engine is the Executor: given a built dag.BuilderDag and a Record
Store, Start wires an exec.ExecutionDag and spawns one worker goroutine per
node — a source worker pumping a user Source, a processor worker
dispatching to a user Processor, a sink worker dispatching to a user Sink.

Every processor and sink worker tracks the state of its input ports
through a portTracker implementing spec.md's per-port state machine
(Idle/Live/AwaitingBarrier/Terminated); the aggregate side effect —
committing a transaction and forwarding downstream, or forwarding
Terminate and closing outputs — fires only once every input port agrees.

An EpochManager implements the barrier sources rendezvous on:
Ingestor.ReportState blocks until every source has reported its (txid,
seqno) for the in-progress epoch, then the ingestor emits Commit(epoch) on
the source's behalf. A source that stops reporting (Deregister) reduces
the barrier count instead of stalling its peers forever.

Shutdown is cooperative: Stop closes a shared token that every blocked
Sender.Send and Receiver.Recv observes; sources react to it directly and
inject Terminate, which then drains downstream in topological order
exactly as described by the cancellation model in spec.md section 5.
*/
package engine
