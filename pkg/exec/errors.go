package exec

import (
	"errors"
	"fmt"

	"github.com/dagflow/dagflow/pkg/types"
)

// ErrShutdownRequested is returned by Sender.Send and Receiver.Recv once
// the Execution DAG's shutdown token has been triggered.
var ErrShutdownRequested = errors.New("exec: shutdown requested")

// ChannelDisconnectedError reports that one of a node's input channels was
// closed before the node had received Terminate on that port.
type ChannelDisconnectedError struct {
	Node types.NodeHandle
	Port types.PortHandle
}

func (e *ChannelDisconnectedError) Error() string {
	return fmt.Sprintf("exec: no channel wired for %s port %d", e.Node, e.Port)
}
