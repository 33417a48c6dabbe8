// Package dag implements the Builder DAG: a typed, validated graph of
// sources, processors and sinks that is assembled port by port and then
// frozen into an immutable BuilderDag by Build.
//
// The graph itself is an arena of nodes plus an adjacency list of edges,
// mirroring the petgraph-style layout the engine this package was modeled
// on uses for its own pipeline graph: nodes are appended to a slice and
// referred to by index everywhere except at the builder's own API surface,
// which still speaks in NodeHandle so callers never see raw indices.
package dag

import (
	"fmt"

	"github.com/dagflow/dagflow/pkg/types"
)

// PortSchema pairs the schema flowing out of a port with the persistence
// mode the owning node wants the Record Store to use for it.
type PortSchema struct {
	Schema  types.Schema
	Persist types.PersistenceMode
}

// SourceFactory is the build-time contract a source implementation exposes
// to the Builder DAG. It never mentions channels or record writers — those
// belong to the richer runtime factory interface pkg/engine defines, which
// every concrete factory also satisfies structurally.
type SourceFactory interface {
	OutputPorts() []types.PortHandle
	OutputSchemas() (map[types.PortHandle]PortSchema, error)
}

// ProcessorFactory is the build-time contract a processor implementation
// exposes to the Builder DAG.
type ProcessorFactory interface {
	InputPorts() []types.PortHandle
	OutputPorts() []types.PortHandle
	OutputSchemas(input map[types.PortHandle]types.Schema) (map[types.PortHandle]PortSchema, error)
}

// SinkFactory is the build-time contract a sink implementation exposes to
// the Builder DAG.
type SinkFactory interface {
	InputPorts() []types.PortHandle
}

type nodeKindTag int

const (
	kindSource nodeKindTag = iota
	kindProcessor
	kindSink
)

type nodeEntry struct {
	handle types.NodeHandle
	kind   nodeKindTag

	source    SourceFactory
	processor ProcessorFactory
	sink      SinkFactory

	index uint16
}

type edgeEntry struct {
	fromNode types.NodeHandle
	fromPort types.PortHandle
	toNode   types.NodeHandle
	toPort   types.PortHandle
}

// Builder assembles a graph of nodes and edges port by port before it is
// frozen into a BuilderDag by Build. A Builder is not safe for concurrent
// use.
type Builder struct {
	nodes    map[types.NodeHandle]*nodeEntry
	order    []types.NodeHandle
	edges    []edgeEntry
	connectedInputs map[types.NodeHandle]map[types.PortHandle]bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes:           make(map[types.NodeHandle]*nodeEntry),
		connectedInputs: make(map[types.NodeHandle]map[types.PortHandle]bool),
	}
}

func (b *Builder) addNode(handle types.NodeHandle, e *nodeEntry) error {
	if _, exists := b.nodes[handle]; exists {
		return newBuildError(DuplicateNodeHandle, "node %s already present", handle)
	}
	e.handle = handle
	b.nodes[handle] = e
	b.order = append(b.order, handle)
	return nil
}

// AddSource registers a source node under handle.
func (b *Builder) AddSource(handle types.NodeHandle, factory SourceFactory) error {
	return b.addNode(handle, &nodeEntry{kind: kindSource, source: factory})
}

// AddProcessor registers a processor node under handle.
func (b *Builder) AddProcessor(handle types.NodeHandle, factory ProcessorFactory) error {
	return b.addNode(handle, &nodeEntry{kind: kindProcessor, processor: factory})
}

// AddSink registers a sink node under handle.
func (b *Builder) AddSink(handle types.NodeHandle, factory SinkFactory) error {
	return b.addNode(handle, &nodeEntry{kind: kindSink, sink: factory})
}

func (b *Builder) outputPorts(n *nodeEntry) []types.PortHandle {
	switch n.kind {
	case kindSource:
		return n.source.OutputPorts()
	case kindProcessor:
		return n.processor.OutputPorts()
	default:
		return nil
	}
}

func (b *Builder) inputPorts(n *nodeEntry) []types.PortHandle {
	switch n.kind {
	case kindProcessor:
		return n.processor.InputPorts()
	case kindSink:
		return n.sink.InputPorts()
	default:
		return nil
	}
}

func hasPort(ports []types.PortHandle, port types.PortHandle) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

// Connect wires an output port of one node to an input port of another.
// Every input port must be the target of exactly one Connect call; an
// output port may fan out to any number of downstream input ports.
func (b *Builder) Connect(fromNode types.NodeHandle, fromPort types.PortHandle, toNode types.NodeHandle, toPort types.PortHandle) error {
	from, ok := b.nodes[fromNode]
	if !ok {
		return newBuildError(UnknownPort, "connect: unknown source node %s", fromNode)
	}
	to, ok := b.nodes[toNode]
	if !ok {
		return newBuildError(UnknownPort, "connect: unknown target node %s", toNode)
	}
	if !hasPort(b.outputPorts(from), fromPort) {
		return newBuildError(UnknownPort, "connect: %s has no output port %d", fromNode, fromPort)
	}
	if !hasPort(b.inputPorts(to), toPort) {
		return newBuildError(UnknownPort, "connect: %s has no input port %d", toNode, toPort)
	}

	if b.connectedInputs[toNode] == nil {
		b.connectedInputs[toNode] = make(map[types.PortHandle]bool)
	}
	if b.connectedInputs[toNode][toPort] {
		return newBuildError(UnconnectedInputPort, "%s input port %d is already connected", toNode, toPort)
	}
	b.connectedInputs[toNode][toPort] = true

	b.edges = append(b.edges, edgeEntry{fromNode: fromNode, fromPort: fromPort, toNode: toNode, toPort: toPort})
	return nil
}

// Merge copies every node and edge of other into b, namespacing each
// node handle under ns so that two subgraphs built independently can be
// combined without handle collisions.
func (b *Builder) Merge(ns string, other *Builder) error {
	for _, h := range other.order {
		n := other.nodes[h]
		namespaced := h.Namespaced(ns)
		cp := *n
		if err := b.addNode(namespaced, &cp); err != nil {
			return err
		}
	}
	for _, e := range other.edges {
		if err := b.Connect(e.fromNode.Namespaced(ns), e.fromPort, e.toNode.Namespaced(ns), e.toPort); err != nil {
			return err
		}
	}
	return nil
}

// Node is one frozen, schema-resolved node of a built BuilderDag.
type Node struct {
	Handle types.NodeHandle
	Index  uint16
	Kind   nodeKindTag

	SourceFactory    SourceFactory
	ProcessorFactory ProcessorFactory
	SinkFactory      SinkFactory

	// OutputSchemas holds the resolved PortSchema for every output port
	// of source and processor nodes. nil for sinks.
	OutputSchemas map[types.PortHandle]PortSchema
}

// IsSource reports whether the node is a source.
func (n Node) IsSource() bool { return n.Kind == kindSource }

// IsProcessor reports whether the node is a processor.
func (n Node) IsProcessor() bool { return n.Kind == kindProcessor }

// IsSink reports whether the node is a sink.
func (n Node) IsSink() bool { return n.Kind == kindSink }

// Edge is a frozen, schema-resolved connection between two ports.
type Edge struct {
	FromNode types.NodeHandle
	FromPort types.PortHandle
	ToNode   types.NodeHandle
	ToPort   types.PortHandle
	Schema   types.Schema
	Persist  types.PersistenceMode
}

// BuilderDag is the immutable, validated result of Builder.Build. Every
// port is schema-resolved and every node has a stable storage index.
type BuilderDag struct {
	Nodes []Node
	Edges []Edge

	nodeIndex map[types.NodeHandle]int
}

// Node looks up a frozen node by handle.
func (d *BuilderDag) Node(handle types.NodeHandle) (Node, bool) {
	i, ok := d.nodeIndex[handle]
	if !ok {
		return Node{}, false
	}
	return d.Nodes[i], true
}

// InEdges returns every edge whose target is handle.
func (d *BuilderDag) InEdges(handle types.NodeHandle) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.ToNode == handle {
			out = append(out, e)
		}
	}
	return out
}

// OutEdges returns every edge whose source is handle.
func (d *BuilderDag) OutEdges(handle types.NodeHandle) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.FromNode == handle {
			out = append(out, e)
		}
	}
	return out
}

// Build validates the graph and resolves it into an immutable BuilderDag:
// it checks every input port is connected, rejects cycles, propagates
// schemas from sources through processors to sinks, and assigns each node
// a stable storage index.
func (b *Builder) Build() (*BuilderDag, error) {
	if err := b.checkInputsConnected(); err != nil {
		return nil, err
	}

	order, err := b.topoSort()
	if err != nil {
		return nil, err
	}

	if err := b.checkSinksReachable(order); err != nil {
		return nil, err
	}

	nodeSchemas := make(map[types.NodeHandle]map[types.PortHandle]PortSchema)
	for _, h := range order {
		n := b.nodes[h]
		switch n.kind {
		case kindSource:
			schemas, err := n.source.OutputSchemas()
			if err != nil {
				return nil, &BuildError{Kind: FactoryError, Message: fmt.Sprintf("source %s", h), Cause: err}
			}
			nodeSchemas[h] = schemas
		case kindProcessor:
			input := make(map[types.PortHandle]types.Schema)
			for _, e := range b.edges {
				if e.toNode != h {
					continue
				}
				up := nodeSchemas[e.fromNode][e.fromPort]
				input[e.toPort] = up.Schema
			}
			schemas, err := n.processor.OutputSchemas(input)
			if err != nil {
				return nil, &BuildError{Kind: FactoryError, Message: fmt.Sprintf("processor %s", h), Cause: err}
			}
			nodeSchemas[h] = schemas
		case kindSink:
			// Sinks consume but declare no output schemas of their own.
		}
	}

	if err := b.checkFanInSchemas(nodeSchemas); err != nil {
		return nil, err
	}

	dagNodes := make([]Node, 0, len(order))
	nodeIndex := make(map[types.NodeHandle]int, len(order))
	for i, h := range order {
		n := b.nodes[h]
		n.index = uint16(i)
		node := Node{
			Handle:           h,
			Index:            n.index,
			Kind:             n.kind,
			SourceFactory:    n.source,
			ProcessorFactory: n.processor,
			SinkFactory:      n.sink,
			OutputSchemas:    nodeSchemas[h],
		}
		nodeIndex[h] = i
		dagNodes = append(dagNodes, node)
	}

	dagEdges := make([]Edge, 0, len(b.edges))
	for _, e := range b.edges {
		ps := nodeSchemas[e.fromNode][e.fromPort]
		dagEdges = append(dagEdges, Edge{
			FromNode: e.fromNode,
			FromPort: e.fromPort,
			ToNode:   e.toNode,
			ToPort:   e.toPort,
			Schema:   ps.Schema,
			Persist:  ps.Persist,
		})
	}

	return &BuilderDag{Nodes: dagNodes, Edges: dagEdges, nodeIndex: nodeIndex}, nil
}

func (b *Builder) checkInputsConnected() error {
	for _, h := range b.order {
		n := b.nodes[h]
		for _, port := range b.inputPorts(n) {
			if !b.connectedInputs[h][port] {
				return newBuildError(UnconnectedInputPort, "%s input port %d has no incoming edge", h, port)
			}
		}
	}
	return nil
}

// checkFanInSchemas checks that every edge leaves an output port whose
// upstream factory actually declared a schema for it in OutputSchemas. With
// the "exactly one edge per input port" invariant enforced by Connect, no
// input port has a second upstream schema to compare against.
func (b *Builder) checkFanInSchemas(nodeSchemas map[types.NodeHandle]map[types.PortHandle]PortSchema) error {
	for _, e := range b.edges {
		up, ok := nodeSchemas[e.fromNode][e.fromPort]
		if !ok {
			return newBuildError(SchemaMismatch, "%s output port %d never declared a schema", e.fromNode, e.fromPort)
		}
		_ = up
	}
	return nil
}

// topoSort returns node handles in a valid topological order, or a
// CycleDetected BuildError if the graph is not a DAG.
func (b *Builder) topoSort() ([]types.NodeHandle, error) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[types.NodeHandle]int, len(b.order))
	adj := make(map[types.NodeHandle][]types.NodeHandle)
	for _, e := range b.edges {
		adj[e.fromNode] = append(adj[e.fromNode], e.toNode)
	}

	var order []types.NodeHandle
	var visit func(h types.NodeHandle) error
	visit = func(h types.NodeHandle) error {
		color[h] = gray
		for _, next := range adj[h] {
			switch color[next] {
			case gray:
				return newBuildError(CycleDetected, "cycle through %s -> %s", h, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[h] = black
		order = append(order, h)
		return nil
	}

	for _, h := range b.order {
		if color[h] == white {
			if err := visit(h); err != nil {
				return nil, err
			}
		}
	}

	// visit appends in post-order; reverse for a source-to-sink ordering.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

func (b *Builder) checkSinksReachable(order []types.NodeHandle) error {
	reachable := make(map[types.NodeHandle]bool)
	var sources []types.NodeHandle
	for _, h := range order {
		if b.nodes[h].kind == kindSource {
			sources = append(sources, h)
		}
	}
	adj := make(map[types.NodeHandle][]types.NodeHandle)
	for _, e := range b.edges {
		adj[e.fromNode] = append(adj[e.fromNode], e.toNode)
	}
	var walk func(h types.NodeHandle)
	walk = func(h types.NodeHandle) {
		if reachable[h] {
			return
		}
		reachable[h] = true
		for _, next := range adj[h] {
			walk(next)
		}
	}
	for _, s := range sources {
		walk(s)
	}
	for _, h := range order {
		if b.nodes[h].kind == kindSink && !reachable[h] {
			return newBuildError(UnreachableSink, "%s is not reachable from any source", h)
		}
	}
	return nil
}
