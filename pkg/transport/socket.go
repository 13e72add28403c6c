// Package transport multiplexes message-oriented remotes over a single UDP
// endpoint. A Socket owns every Remote it knows about, splits outbound
// messages into datagram-sized fragments, and reassembles inbound fragments
// per remote.
//
// A Socket performs no internal synchronization: all methods must be called
// from the thread that owns it. The conn package wraps a Socket in a
// background worker for callers that want a channel-based API.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knet-org/knet/pkg/common"
	"github.com/knet-org/knet/pkg/logging"
	"github.com/knet-org/knet/pkg/packet"
)

// readProbeTimeout is the deadline pushed onto the UDP endpoint before each
// read of the receive drain. Go has no non-blocking socket mode, so a
// near-immediate deadline stands in for it: data already queued by the OS
// is returned at once, and an empty queue surfaces as a timeout, which the
// drain treats as "would block".
const readProbeTimeout = time.Millisecond

// SocketEventKind discriminates socket lifecycle events.
type SocketEventKind uint8

const (
	// EventNewConnectionFrom signals a remote registered by an inbound
	// connection attempt.
	EventNewConnectionFrom SocketEventKind = iota
	// EventDisconnected signals a remote that left the Connected or
	// connecting states for good.
	EventDisconnected
)

// SocketEvent is a lifecycle notification produced during
// PrepareIteration and drained through Events.
type SocketEvent struct {
	Kind              SocketEventKind
	RemoteID          RemoteID
	Addr              *net.UDPAddr
	InitiatedByRemote bool
}

// RemoteMessages pairs a remote with the messages drained from it.
type RemoteMessages struct {
	RemoteID RemoteID
	Messages [][]byte
}

// Socket multiplexes remotes over one UDP endpoint. It does not own the
// endpoint; closing it is the caller's business.
type Socket struct {
	// id correlates this socket's log lines across goroutines and peers.
	id   string
	conn *net.UDPConn

	remotes       map[RemoteID]*Remote
	remotesByAddr map[string]*Remote
	nextRemoteID  RemoteID

	events []SocketEvent
	pool   *common.BufferPool
}

// NewSocket wraps an already-bound UDP endpoint.
func NewSocket(conn *net.UDPConn) *Socket {
	return &Socket{
		id:            uuid.NewString(),
		conn:          conn,
		remotes:       make(map[RemoteID]*Remote),
		remotesByAddr: make(map[string]*Remote),
		pool:          common.NewBufferPool(packet.MaxUDPMessageSize),
	}
}

// LocalAddr returns the endpoint's bound address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// TryConnect registers addr as a new remote, sends it a connect probe and
// returns the allocated remote id. Connecting to an address that already
// has a remote fails with ErrAddressInUse.
func (s *Socket) TryConnect(addr string) (RemoteID, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return 0, fmt.Errorf("resolve %q: %w", addr, err)
	}
	if _, exists := s.remotesByAddr[udpAddr.String()]; exists {
		return 0, ErrAddressInUse
	}

	remote := s.registerRemote(udpAddr)
	s.sendProbe(remote)
	remote.status = RemoteConnecting

	logging.Debug("connecting to remote",
		zap.String("socket", s.id),
		zap.Uint32("remoteID", uint32(remote.id)),
		zap.String("addr", udpAddr.String()))
	return remote.id, nil
}

// Disconnect marks the remote as disconnected. A Disconnected event is
// queued so a wrapping worker can notify its caller.
func (s *Socket) Disconnect(id RemoteID) error {
	remote, exists := s.remotes[id]
	if !exists {
		return &InvalidRemoteIDError{ID: id}
	}
	if remote.status != RemoteDisconnected {
		remote.status = RemoteDisconnected
		s.events = append(s.events, SocketEvent{
			Kind:     EventDisconnected,
			RemoteID: remote.id,
			Addr:     remote.addr,
		})
	}
	return nil
}

// PrepareIteration drains the OS receive queue without blocking, routing
// each valid fragment to the combiner of the remote that sent it, and
// advances the connect-abandon clock of remotes still handshaking. It must
// run before ReceiveAllMessagesFrom in the same tick, or new arrivals stay
// invisible.
//
// Datagrams from unknown senders register a new remote (a remote-initiated
// connection attempt) and queue a NewConnectionFrom event. Invalid
// datagrams are dropped silently.
func (s *Socket) PrepareIteration() error {
	for {
		buf := s.pool.Get()
		if err := s.conn.SetReadDeadline(time.Now().Add(readProbeTimeout)); err != nil {
			s.pool.Put(buf)
			return fmt.Errorf("arm read deadline: %w", err)
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			s.pool.Put(buf)
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break // queue drained
			}
			return fmt.Errorf("receive drain: %w", err)
		}
		s.handleDatagram(buf, n, addr)
	}
	s.tickConnecting()
	return nil
}

// ReceiveAllMessagesFrom drains the completed-message queue of one remote.
// Messages are in the order they finished reassembly, which may differ from
// the order the peer sent them.
func (s *Socket) ReceiveAllMessagesFrom(id RemoteID) ([][]byte, error) {
	remote, exists := s.remotes[id]
	if !exists {
		return nil, &InvalidRemoteIDError{ID: id}
	}
	return remote.combiner.ExtractOutMessages(), nil
}

// ReceiveAllMessages runs one receive iteration and drains every remote
// that has completed messages.
func (s *Socket) ReceiveAllMessages() ([]RemoteMessages, error) {
	if err := s.PrepareIteration(); err != nil {
		return nil, err
	}
	var all []RemoteMessages
	for id, remote := range s.remotes {
		if messages := remote.combiner.ExtractOutMessages(); len(messages) > 0 {
			all = append(all, RemoteMessages{RemoteID: id, Messages: messages})
		}
	}
	return all, nil
}

// SendMessage fragments message and transmits every fragment to the named
// remote, then advances the remote's sequence id by one. Individual
// fragment transmissions are best effort: send errors are logged and
// swallowed. Messages over MaxMessageSize fail with packet.ErrTooLarge
// before anything is transmitted.
//
// The delivery class and priority are recorded on the remote; only the
// one-shot semantics of Forgettable and Droppable are enforced so far.
func (s *Socket) SendMessage(id RemoteID, message []byte, t MessageType, priority int8) error {
	remote, exists := s.remotes[id]
	if !exists {
		return &InvalidRemoteIDError{ID: id}
	}
	stream, err := packet.BuildFragments(message, remote.nextSeqID)
	if err != nil {
		return err
	}
	remote.lastType = t
	remote.lastPriority = priority

	for {
		frag, ok := stream.Next()
		if !ok {
			break
		}
		datagram := packet.EncodeFragment(&frag)
		if _, err := s.conn.WriteToUDP(datagram, remote.addr); err != nil {
			logging.Warn("fragment send failed",
				zap.String("socket", s.id),
				zap.Uint32("remoteID", uint32(remote.id)),
				zap.Uint32("seqID", frag.SeqID),
				zap.Uint8("fragID", frag.FragID),
				zap.Error(err))
		}
	}
	logging.Debug("sent message",
		zap.String("socket", s.id),
		zap.Uint32("remoteID", uint32(remote.id)),
		zap.Uint32("seqID", remote.nextSeqID),
		zap.Int("fragments", stream.Len()),
		zap.String("class", t.Kind.String()),
		zap.Int8("priority", priority))
	remote.nextSeqID++
	return nil
}

// SendKeyMessage sends message with the Key delivery class.
func (s *Socket) SendKeyMessage(id RemoteID, message []byte, priority int8) error {
	return s.SendMessage(id, message, KeyMessage(), priority)
}

// SendKeyExpirableMessage sends message with the KeyExpirable class and the
// given TTL in milliseconds.
func (s *Socket) SendKeyExpirableMessage(id RemoteID, message []byte, ttlMillis uint32, priority int8) error {
	return s.SendMessage(id, message, KeyExpirableMessage(ttlMillis), priority)
}

// SendForgettableMessage sends message with the Forgettable class.
func (s *Socket) SendForgettableMessage(id RemoteID, message []byte, priority int8) error {
	return s.SendMessage(id, message, ForgettableMessage(), priority)
}

// SendDroppableMessage sends message with the Droppable class.
func (s *Socket) SendDroppableMessage(id RemoteID, message []byte, priority int8) error {
	return s.SendMessage(id, message, DroppableMessage(), priority)
}

// Events drains the lifecycle events gathered since the last call.
func (s *Socket) Events() []SocketEvent {
	events := s.events
	s.events = nil
	return events
}

// Remote looks up a remote by id.
func (s *Socket) Remote(id RemoteID) (*Remote, bool) {
	remote, exists := s.remotes[id]
	return remote, exists
}

// registerRemote allocates an id for addr and inserts the remote in both
// indexes.
func (s *Socket) registerRemote(addr *net.UDPAddr) *Remote {
	remote := newRemote(s.nextRemoteID, addr)
	remote.combiner.SetBufferPool(s.pool)
	s.remotes[remote.id] = remote
	s.remotesByAddr[addr.String()] = remote
	s.nextRemoteID++
	return remote
}

// handleDatagram routes one received datagram. buf is the pooled receive
// buffer; ownership moves to the combiner when the fragment is kept, and
// back to the pool otherwise.
func (s *Socket) handleDatagram(buf []byte, n int, addr *net.UDPAddr) {
	frag, err := packet.DecodeDatagram(buf[:n])
	if err != nil {
		s.pool.Put(buf)
		logging.Debug("dropping invalid datagram",
			zap.String("socket", s.id),
			zap.String("from", addr.String()),
			zap.Int("size", n),
			zap.Error(err))
		return
	}

	remote, known := s.remotesByAddr[addr.String()]
	if !known {
		// First contact from this address: a remote-initiated connection
		// attempt. Accept it and answer with a probe.
		remote = s.registerRemote(addr)
		remote.status = RemoteAckConnecting
		s.events = append(s.events, SocketEvent{
			Kind:              EventNewConnectionFrom,
			RemoteID:          remote.id,
			Addr:              addr,
			InitiatedByRemote: true,
		})
		s.sendProbe(remote)
		logging.Debug("remote-initiated connection",
			zap.String("socket", s.id),
			zap.Uint32("remoteID", uint32(remote.id)),
			zap.String("addr", addr.String()))
	}

	isProbe := len(frag.Data) == 0

	// Any valid datagram from an already-handshaking remote proves the
	// peer knows us: the handshake is complete. A remote registered by
	// this very datagram stays in AckConnecting until the peer answers.
	if known && (remote.status == RemoteConnecting || remote.status == RemoteAckConnecting) {
		wasConnecting := remote.status == RemoteConnecting
		remote.status = RemoteConnected
		remote.statusTick = 0
		logging.Debug("remote connected",
			zap.String("socket", s.id),
			zap.Uint32("remoteID", uint32(remote.id)))
		if isProbe && wasConnecting {
			// The peer accepted our connect; acknowledge so it can
			// leave AckConnecting as well.
			s.sendProbe(remote)
		}
	}

	if isProbe {
		// Connect probe. The fragment builder never produces an empty
		// payload, so the slot is free for handshake traffic; it carries
		// no application data and stays out of the combiner.
		s.pool.Put(buf)
		return
	}

	owned := common.NewStrippedBuffer(buf[:n], packet.CRC32Size+packet.FragHeaderSize)
	remote.combiner.PushOwned(frag, &owned)
}

// sendProbe transmits an empty-payload datagram, the connect handshake
// unit. Best effort like every other datagram.
func (s *Socket) sendProbe(remote *Remote) {
	probe := packet.EncodeFragment(&packet.Fragment{})
	if _, err := s.conn.WriteToUDP(probe, remote.addr); err != nil {
		logging.Warn("connect probe send failed",
			zap.String("socket", s.id),
			zap.Uint32("remoteID", uint32(remote.id)),
			zap.Error(err))
	}
}

// tickConnecting advances the abandon clock of every remote still in a
// connecting status and gives up on the ones that ran out of iterations.
func (s *Socket) tickConnecting() {
	for _, remote := range s.remotes {
		if remote.status != RemoteConnecting && remote.status != RemoteAckConnecting {
			continue
		}
		remote.statusTick++
		if remote.statusTick < packet.ConnectAbandonIterations {
			continue
		}
		remote.status = RemoteDisconnected
		s.events = append(s.events, SocketEvent{
			Kind:     EventDisconnected,
			RemoteID: remote.id,
			Addr:     remote.addr,
		})
		logging.Info("connection attempt abandoned",
			zap.String("socket", s.id),
			zap.Uint32("remoteID", uint32(remote.id)),
			zap.String("addr", remote.addr.String()))
	}
}
