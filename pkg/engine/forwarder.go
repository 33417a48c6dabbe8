package engine

import (
	"github.com/dagflow/dagflow/pkg/exec"
	"github.com/dagflow/dagflow/pkg/types"
)

// runtimeForwarder is the concrete Forwarder handed to a processor's
// Process method.
type runtimeForwarder struct {
	senders map[types.PortHandle][]*exec.Sender
}

func newRuntimeForwarder(senders map[types.PortHandle][]*exec.Sender) *runtimeForwarder {
	return &runtimeForwarder{senders: senders}
}

func (f *runtimeForwarder) Forward(port types.PortHandle, op types.Operation) error {
	for _, s := range f.senders[port] {
		if err := s.Send(op); err != nil {
			return err
		}
	}
	return nil
}

func (f *runtimeForwarder) forwardToAll(op types.Operation) error {
	for port := range f.senders {
		if err := f.Forward(port, op); err != nil {
			return err
		}
	}
	return nil
}

// forwardTerminateAll unconditionally delivers Terminate on every output
// port, even after shutdown has been requested — draining must still
// complete.
func (f *runtimeForwarder) forwardTerminateAll() {
	for _, senders := range f.senders {
		for _, s := range senders {
			s.SendFinal(types.Terminate())
		}
	}
}
