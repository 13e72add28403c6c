package transport

// MessageKind is the delivery class selected by the sender per message.
type MessageKind uint8

const (
	// KindForgettable messages are transmitted once; if they do not make
	// it through the first time, they are abandoned.
	KindForgettable MessageKind = iota
	// KindDroppable messages behave like forgettable ones, and may
	// additionally be discarded before the first transmission when the
	// other side is suspected to be congested.
	KindDroppable
	// KindKeyExpirable messages are retransmitted until acknowledged or
	// until their TTL elapses.
	KindKeyExpirable
	// KindKey messages are retransmitted until acknowledged, however long
	// that takes.
	KindKey
)

func (k MessageKind) String() string {
	switch k {
	case KindForgettable:
		return "Forgettable"
	case KindDroppable:
		return "Droppable"
	case KindKeyExpirable:
		return "KeyExpirable"
	case KindKey:
		return "Key"
	default:
		return "Unknown"
	}
}

// MessageType pairs a delivery class with its parameters.
type MessageType struct {
	Kind MessageKind
	// TTLMillis bounds retransmission of a KeyExpirable message. Zero
	// makes it equivalent to Forgettable.
	TTLMillis uint32
}

// ForgettableMessage is the one-shot, best-effort delivery class.
func ForgettableMessage() MessageType {
	return MessageType{Kind: KindForgettable}
}

// DroppableMessage is the congestion-sheddable delivery class.
func DroppableMessage() MessageType {
	return MessageType{Kind: KindDroppable}
}

// KeyExpirableMessage is the acknowledged-or-expired delivery class.
func KeyExpirableMessage(ttlMillis uint32) MessageType {
	return MessageType{Kind: KindKeyExpirable, TTLMillis: ttlMillis}
}

// KeyMessage is the acknowledged-at-any-cost delivery class.
func KeyMessage() MessageType {
	return MessageType{Kind: KindKey}
}
