package packet

import "errors"

// Send-path errors.
var (
	// ErrTooLarge reports a message that does not fit in
	// MaxFragmentsInMessage fragments.
	ErrTooLarge = errors.New("packet: message exceeds the maximum fragment count")

	// ErrIncoherentFragments reports a fragment set that cannot be
	// reassembled: duplicate or out-of-range fragment ids.
	ErrIncoherentFragments = errors.New("packet: fragment set is incoherent")
)

// Fragment is a single on-wire unit carrying part of one application
// message. All fragments of a message share its sequence id.
type Fragment struct {
	SeqID  uint32
	FragID uint8
	// FragTotal is one less than the number of fragments in the sequence:
	// FragID == FragTotal == 0 means the message fits in one fragment.
	FragTotal uint8
	Data      []byte
}

// FragmentStream lazily yields the fragments of one application message in
// order. The stream aliases the source payload, so it can be Reset and
// re-enumerated (or Cloned mid-iteration) for retransmission without a
// second allocation.
type FragmentStream struct {
	data      []byte
	seqID     uint32
	fragTotal uint8
	next      int
}

// BuildFragments splits data into a stream of at most MaxFragmentsInMessage
// fragments carrying seqID.
//
// Panics if data is empty; sending nothing is a caller bug.
func BuildFragments(data []byte, seqID uint32) (*FragmentStream, error) {
	if len(data) == 0 {
		panic("packet: cannot build fragments from an empty message")
	}
	count := (len(data) + MaxFragmentPayload - 1) / MaxFragmentPayload
	if count > MaxFragmentsInMessage {
		return nil, ErrTooLarge
	}
	return &FragmentStream{
		data:      data,
		seqID:     seqID,
		fragTotal: uint8(count - 1),
	}, nil
}

// Len returns the total number of fragments the stream yields.
func (s *FragmentStream) Len() int {
	return int(s.fragTotal) + 1
}

// Next yields the next fragment, or false once the stream is exhausted.
func (s *FragmentStream) Next() (Fragment, bool) {
	if s.next > int(s.fragTotal) {
		return Fragment{}, false
	}
	start := s.next * MaxFragmentPayload
	end := min(start+MaxFragmentPayload, len(s.data))
	f := Fragment{
		SeqID:     s.seqID,
		FragID:    uint8(s.next),
		FragTotal: s.fragTotal,
		Data:      s.data[start:end],
	}
	s.next++
	return f, true
}

// Reset rewinds the stream to its first fragment.
func (s *FragmentStream) Reset() {
	s.next = 0
}

// Clone returns an independent stream sharing the same payload, positioned
// at the same fragment.
func (s *FragmentStream) Clone() *FragmentStream {
	c := *s
	return &c
}

// BuildData restores the application payload from all fragments of one
// sequence. The input order does not matter; fragments are placed by their
// fragment id. Duplicate ids and ids past the fragment count fail.
func BuildData(fragments []Fragment) ([]byte, error) {
	if len(fragments) == 0 {
		return nil, ErrIncoherentFragments
	}
	ordered := make([]*Fragment, len(fragments))
	totalSize := 0
	for i := range fragments {
		f := &fragments[i]
		id := int(f.FragID)
		if id >= len(ordered) || ordered[id] != nil {
			return nil, ErrIncoherentFragments
		}
		totalSize += len(f.Data)
		ordered[id] = f
	}
	data := make([]byte, 0, totalSize)
	for _, f := range ordered {
		data = append(data, f.Data...)
	}
	return data, nil
}
