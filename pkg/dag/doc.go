/*
Package dag implements the Builder DAG layer: a typed graph of source,
processor and sink nodes assembled through AddSource/AddProcessor/AddSink
and Connect, then frozen by Build into an immutable BuilderDag.

Build enforces the structural invariants the engine relies on before a
single goroutine is started:

  - every input port is the target of exactly one edge
  - the graph has no cycles
  - every sink is reachable from at least one source
  - schemas propagate from sources through processors to sinks, and every
    node ends up with a resolved PortSchema (schema + persistence mode)
    for each of its output ports

A BuilderDag's nodes carry a stable zero-based Index, assigned in
topological order, which the Record Store uses as the node component of
its key prefix.
*/
package dag
