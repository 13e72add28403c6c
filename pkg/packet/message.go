// This file defines the on-wire datagram format and its
// serialization/deserialization:
//
//	[CRC32(4B)][SeqID(4B)][FragID(1B)][FragTotal(1B)][Payload]
//
// Everything is big-endian; the IEEE CRC32 covers all bytes past the
// checksum itself. One datagram carries exactly one fragment.
package packet

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Decode errors. A datagram failing any of these checks is dropped by the
// receive path, never surfaced to the application: inbound garbage may be
// induced by a hostile or buggy peer.
var (
	ErrNotBigEnough      = errors.New("packet: datagram too short to carry a fragment header")
	ErrInvalidCrc        = errors.New("packet: datagram checksum mismatch")
	ErrInvalidFragInfo   = errors.New("packet: fragment id exceeds fragment total")
	ErrFragTotalTooLarge = errors.New("packet: fragment total exceeds the fragment cap")
)

// EncodeFragment serializes f into one wire datagram.
func EncodeFragment(f *Fragment) []byte {
	buf := make([]byte, CRC32Size+FragHeaderSize+len(f.Data))
	binary.BigEndian.PutUint32(buf[4:8], f.SeqID)
	buf[8] = f.FragID
	buf[9] = f.FragTotal
	copy(buf[10:], f.Data)
	binary.BigEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(buf[4:]))
	return buf
}

// DecodeDatagram validates buf and extracts the fragment it carries. The
// fragment's payload aliases buf past the header rather than copying, so
// the caller hands over ownership of the buffer.
//
// Oversize datagrams are not rejected here: the receive path reads at most
// MaxUDPMessageSize bytes off the wire already.
func DecodeDatagram(buf []byte) (Fragment, error) {
	if len(buf) < CRC32Size+FragHeaderSize {
		return Fragment{}, ErrNotBigEnough
	}
	storedCrc := binary.BigEndian.Uint32(buf[0:4])
	if crc32.ChecksumIEEE(buf[4:]) != storedCrc {
		return Fragment{}, ErrInvalidCrc
	}
	fragTotal := buf[9]
	if fragTotal >= MaxFragmentsInMessage {
		return Fragment{}, ErrFragTotalTooLarge
	}
	fragID := buf[8]
	if fragID > fragTotal {
		return Fragment{}, ErrInvalidFragInfo
	}
	return Fragment{
		SeqID:     binary.BigEndian.Uint32(buf[4:8]),
		FragID:    fragID,
		FragTotal: fragTotal,
		Data:      buf[10:],
	}, nil
}
