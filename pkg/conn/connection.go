// Package conn wraps a transport.Socket in a background worker so callers
// on other goroutines get a channel-based, non-blocking API. The worker
// exclusively owns its socket; caller and worker share nothing but four
// channels and an atomic stop flag.
package conn

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/knet-org/knet/pkg/logging"
	"github.com/knet-org/knet/pkg/packet"
	"github.com/knet-org/knet/pkg/transport"
)

// channelDepth sizes the four caller/worker channels. The API is
// effectively unbounded for the message rates this library targets; if a
// caller stops draining for this many items, further deliveries are
// dropped with a warning rather than wedging the worker.
const channelDepth = 1024

// OutEventKind discriminates caller requests to the worker.
type OutEventKind uint8

const (
	// OutNewConnection asks the worker to connect to Addr.
	OutNewConnection OutEventKind = iota
	// OutDisconnect asks the worker to mark RemoteID as disconnected.
	OutDisconnect
)

// OutEvent is a caller request processed at the worker's next tick.
type OutEvent struct {
	Kind     OutEventKind
	Addr     string
	RemoteID transport.RemoteID
}

// InEventKind discriminates worker notifications to the caller.
type InEventKind uint8

const (
	// InNewConnectionFrom reports a freshly registered remote, whether
	// caller-initiated or peer-initiated.
	InNewConnectionFrom InEventKind = iota
	// InDisconnected reports a remote that is gone.
	InDisconnected
)

// InEvent is a lifecycle notification from the worker.
type InEvent struct {
	Kind              InEventKind
	RemoteID          transport.RemoteID
	Addr              *net.UDPAddr
	InitiatedByRemote bool
}

// OutData is one outbound message handed to the worker.
type OutData struct {
	RemoteID transport.RemoteID
	Data     []byte
	Type     transport.MessageType
	Priority int8
}

// InData is one reassembled inbound message.
type InData struct {
	RemoteID transport.RemoteID
	Data     []byte
}

// Connection runs a Socket on a background worker goroutine and exchanges
// data and events with the caller through channels.
type Connection struct {
	conn       *net.UDPConn
	shouldStop atomic.Bool
	done       chan struct{}
	fatalErr   error

	outEvent chan OutEvent
	outData  chan OutData
	inEvent  chan InEvent
	inData   chan InData
}

// NewConnection binds a UDP endpoint on bindAddr and starts the worker.
func NewConnection(bindAddr string) (*Connection, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", bindAddr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", bindAddr, err)
	}

	c := &Connection{
		conn:     udpConn,
		done:     make(chan struct{}),
		outEvent: make(chan OutEvent, channelDepth),
		outData:  make(chan OutData, channelDepth),
		inEvent:  make(chan InEvent, channelDepth),
		inData:   make(chan InData, channelDepth),
	}
	go c.worker()
	return c, nil
}

// LocalAddr returns the bound address of the underlying endpoint.
func (c *Connection) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// TryConnect asks the worker to connect to addr. The allocated remote id
// arrives later as an InNewConnectionFrom event.
func (c *Connection) TryConnect(addr string) {
	c.SendRequest(OutEvent{Kind: OutNewConnection, Addr: addr})
}

// Disconnect asks the worker to mark the remote as disconnected. The remote
// stays registered on the socket.
func (c *Connection) Disconnect(id transport.RemoteID) {
	c.SendRequest(OutEvent{Kind: OutDisconnect, RemoteID: id})
}

// SendRequest enqueues a lifecycle request for the worker's next tick.
func (c *Connection) SendRequest(event OutEvent) {
	select {
	case c.outEvent <- event:
	default:
		logging.Warn("connection request queue full, dropping request",
			zap.Uint8("kind", uint8(event.Kind)))
	}
}

// SendData enqueues one message for transmission at the worker's next tick.
func (c *Connection) SendData(id transport.RemoteID, data []byte, t transport.MessageType, priority int8) {
	select {
	case c.outData <- OutData{RemoteID: id, Data: data, Type: t, Priority: priority}:
	default:
		logging.Warn("connection send queue full, dropping message",
			zap.Uint32("remoteID", uint32(id)),
			zap.Int("size", len(data)))
	}
}

// SendForgettableData enqueues data with the Forgettable class and neutral
// priority.
func (c *Connection) SendForgettableData(id transport.RemoteID, data []byte) {
	c.SendData(id, data, transport.ForgettableMessage(), 0)
}

// ReceiveData probes for one reassembled inbound message without blocking.
func (c *Connection) ReceiveData() (InData, bool) {
	select {
	case in := <-c.inData:
		return in, true
	default:
		return InData{}, false
	}
}

// ReceiveEvent probes for one lifecycle notification without blocking.
func (c *Connection) ReceiveEvent() (InEvent, bool) {
	select {
	case event := <-c.inEvent:
		return event, true
	default:
		return InEvent{}, false
	}
}

// Shutdown stops the worker at its next tick, closes the endpoint and
// returns whatever fatal error the worker terminated with.
func (c *Connection) Shutdown() error {
	c.shouldStop.Store(true)
	<-c.done
	if err := c.conn.Close(); err != nil {
		logging.Warn("endpoint close failed", zap.Error(err))
	}
	return c.fatalErr
}

// worker is the connection main loop. It owns the socket exclusively:
// nothing outside this goroutine may touch it.
func (c *Connection) worker() {
	defer close(c.done)

	socket := transport.NewSocket(c.conn)
	ticker := time.NewTicker(packet.PollInterval)
	defer ticker.Stop()

	for !c.shouldStop.Load() {
		c.drainRequests(socket)
		c.drainOutgoing(socket)
		if err := c.pump(socket); err != nil {
			c.fatalErr = err
			logging.Error("connection worker terminating", zap.Error(err))
			return
		}
		<-ticker.C
	}
}

// drainRequests applies every pending caller request to the socket.
func (c *Connection) drainRequests(socket *transport.Socket) {
	for {
		select {
		case event := <-c.outEvent:
			switch event.Kind {
			case OutNewConnection:
				id, err := socket.TryConnect(event.Addr)
				if err != nil {
					logging.Warn("connect request failed",
						zap.String("addr", event.Addr), zap.Error(err))
					continue
				}
				remote, _ := socket.Remote(id)
				c.deliverEvent(InEvent{
					Kind:     InNewConnectionFrom,
					RemoteID: id,
					Addr:     remote.Addr(),
				})
			case OutDisconnect:
				if err := socket.Disconnect(event.RemoteID); err != nil {
					logging.Warn("disconnect request failed",
						zap.Uint32("remoteID", uint32(event.RemoteID)), zap.Error(err))
				}
			}
		default:
			return
		}
	}
}

// drainOutgoing transmits every pending caller message.
func (c *Connection) drainOutgoing(socket *transport.Socket) {
	for {
		select {
		case out := <-c.outData:
			if err := socket.SendMessage(out.RemoteID, out.Data, out.Type, out.Priority); err != nil {
				logging.Warn("send request failed",
					zap.Uint32("remoteID", uint32(out.RemoteID)), zap.Error(err))
			}
		default:
			return
		}
	}
}

// pump runs one receive iteration and forwards socket events and completed
// messages upstream.
func (c *Connection) pump(socket *transport.Socket) error {
	batches, err := socket.ReceiveAllMessages()
	if err != nil {
		return err
	}
	for _, event := range socket.Events() {
		kind := InNewConnectionFrom
		if event.Kind == transport.EventDisconnected {
			kind = InDisconnected
		}
		c.deliverEvent(InEvent{
			Kind:              kind,
			RemoteID:          event.RemoteID,
			Addr:              event.Addr,
			InitiatedByRemote: event.InitiatedByRemote,
		})
	}
	for _, batch := range batches {
		for _, message := range batch.Messages {
			select {
			case c.inData <- InData{RemoteID: batch.RemoteID, Data: message}:
			default:
				logging.Warn("inbound data queue full, dropping message",
					zap.Uint32("remoteID", uint32(batch.RemoteID)),
					zap.Int("size", len(message)))
			}
		}
	}
	return nil
}

func (c *Connection) deliverEvent(event InEvent) {
	select {
	case c.inEvent <- event:
	default:
		logging.Warn("inbound event queue full, dropping event",
			zap.Uint8("kind", uint8(event.Kind)),
			zap.Uint32("remoteID", uint32(event.RemoteID)))
	}
}
