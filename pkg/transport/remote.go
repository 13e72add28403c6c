package transport

import "net"

// RemoteID identifies a peer within one Socket. IDs are allocated
// monotonically when the socket first learns of the peer and are not
// portable across sockets.
type RemoteID uint32

// RemoteStatus is the connection lifecycle state of a remote.
type RemoteStatus uint8

const (
	// RemoteNotStarted: no connection attempt has been made yet.
	RemoteNotStarted RemoteStatus = iota
	// RemoteConnecting: we sent a connect probe and are waiting for the
	// peer's answer.
	RemoteConnecting
	// RemoteAckConnecting: the peer initiated the connection; we accepted
	// and are waiting for its acknowledgment.
	RemoteAckConnecting
	// RemoteConnected: handshake completed in either direction.
	RemoteConnected
	// RemoteDisconnected: the remote is gone and may be destroyed anytime.
	RemoteDisconnected
)

func (s RemoteStatus) String() string {
	switch s {
	case RemoteNotStarted:
		return "NotStarted"
	case RemoteConnecting:
		return "Connecting"
	case RemoteAckConnecting:
		return "AckConnecting"
	case RemoteConnected:
		return "Connected"
	case RemoteDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Remote is a peer record exclusively owned by one Socket. The socket
// reaches it through both its id and its address index; the two always
// refer to the same record.
type Remote struct {
	id   RemoteID
	addr *net.UDPAddr

	status RemoteStatus
	// statusTick counts poll iterations spent in a connecting status;
	// reaching ConnectAbandonIterations abandons the attempt.
	statusTick uint32

	nextSeqID uint32
	combiner  *FragmentCombiner

	// Delivery class and priority of the most recent send. They are only
	// recorded: no retransmission or priority ordering reads them.
	lastType     MessageType
	lastPriority int8
}

func newRemote(id RemoteID, addr *net.UDPAddr) *Remote {
	return &Remote{
		id:       id,
		addr:     addr,
		status:   RemoteNotStarted,
		combiner: NewFragmentCombiner(),
	}
}

// ID returns the socket-local identifier of this remote.
func (r *Remote) ID() RemoteID { return r.id }

// Addr returns the peer's UDP address.
func (r *Remote) Addr() *net.UDPAddr { return r.addr }

// Status returns the current lifecycle state.
func (r *Remote) Status() RemoteStatus { return r.status }

// NextSeqID returns the sequence id the next outbound message will carry.
func (r *Remote) NextSeqID() uint32 { return r.nextSeqID }
