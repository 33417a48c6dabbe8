/*
Package exec turns a frozen dag.BuilderDag into an ExecutionDag: one
bounded channel per edge, one RecordWriter per output port that asked for
persistence, and a RecordReader over the same prefix for anything that
wants to read it back.

Senders, receivers, record writers and record readers are each claimed
exactly once per node through CollectSenders / CollectReceivers /
CollectRecordWriters / CollectRecordReaders. pkg/engine calls these while
constructing a node's runtime Source, Processor or Sink, which is the only
time they are needed — after that the node owns them outright.
*/
package exec
