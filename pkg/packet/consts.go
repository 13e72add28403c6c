package packet

import "time"

const (
	// CRC32Size is the length of the checksum prefix of every datagram.
	CRC32Size = 4

	// FragHeaderSize covers the 4-byte sequence id plus one byte each for
	// the fragment id and the fragment total.
	FragHeaderSize = 4 + 1 + 1

	// MaxFragmentPayload bounds the data carried by one fragment.
	// 1024 + 256 keeps the full datagram below common MTU baselines
	// (around 1400), with some headroom left on the table.
	MaxFragmentPayload = 1024 + 256

	// MaxUDPMessageSize is the largest datagram the send path emits and
	// the receive path reads: one full payload plus checksum and fragment
	// header.
	MaxUDPMessageSize = MaxFragmentPayload + CRC32Size + FragHeaderSize

	// MaxFragmentsInMessage caps the fragments of one sequence at 64 so a
	// future ack message can carry one bit per fragment in a single
	// 64-bit word. That still allows up to ~81KB per sequence, enough
	// for fast paced games.
	MaxFragmentsInMessage = 64

	// MaxMessageSize is the largest application message the send path
	// accepts.
	MaxMessageSize = MaxFragmentsInMessage * MaxFragmentPayload
)

const (
	// PollInterval is the passive wait between socket loop iterations.
	PollInterval = 10 * time.Millisecond

	// ConnectAbandonIterations is how many poll iterations a remote may
	// stay in a connecting status before it is considered unreachable
	// (~10 seconds at the default interval).
	ConnectAbandonIterations = 10_000 / 10
)
