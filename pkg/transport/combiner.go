package transport

import (
	"go.uber.org/zap"

	"github.com/knet-org/knet/pkg/common"
	"github.com/knet-org/knet/pkg/logging"
	"github.com/knet-org/knet/pkg/packet"
)

// MaxPendingSequences caps the in-flight inbound sequences one remote may
// hold. Without a cap, a peer that starts sequences it never completes
// would grow the pending map forever; past the cap the least recently
// touched sequence is evicted.
const MaxPendingSequences = 256

// pendingFragment keeps a received fragment together with the datagram
// buffer it aliases, so the buffer can go back to the pool once the
// sequence completes or is evicted.
type pendingFragment struct {
	frag  packet.Fragment
	owned *common.StrippedBuffer
}

// FragmentCombiner is the reassembly state for one remote: fragments
// accumulate per sequence id, and completed messages queue up in the order
// their final fragment arrived.
type FragmentCombiner struct {
	pending map[uint32]map[uint8]*pendingFragment
	// touchOrder holds pending sequence ids from least to most recently
	// touched, driving eviction.
	touchOrder []uint32
	out        [][]byte
	pool       *common.BufferPool
}

// NewFragmentCombiner creates an empty combiner.
func NewFragmentCombiner() *FragmentCombiner {
	return &FragmentCombiner{
		pending: make(map[uint32]map[uint8]*pendingFragment),
	}
}

// SetBufferPool sets the pool datagram buffers are returned to after
// reassembly.
func (c *FragmentCombiner) SetBufferPool(pool *common.BufferPool) {
	c.pool = pool
}

// Push inserts one inbound fragment that does not carry a recyclable
// buffer.
func (c *FragmentCombiner) Push(frag packet.Fragment) {
	c.PushOwned(frag, nil)
}

// PushOwned inserts one inbound fragment together with the datagram buffer
// it owns. A fragment landing on an occupied slot overwrites it: duplicates
// come from sender retransmissions and all copies carry the same payload.
// Once a sequence holds FragTotal+1 fragments it is finalized.
func (c *FragmentCombiner) PushOwned(frag packet.Fragment, owned *common.StrippedBuffer) {
	seq, exists := c.pending[frag.SeqID]
	if !exists {
		if len(c.pending) >= MaxPendingSequences {
			c.evictOldest()
		}
		seq = make(map[uint8]*pendingFragment, int(frag.FragTotal)+1)
		c.pending[frag.SeqID] = seq
	}
	if prev, dup := seq[frag.FragID]; dup {
		c.recycle(prev)
	}
	seq[frag.FragID] = &pendingFragment{frag: frag, owned: owned}
	c.touch(frag.SeqID)

	if len(seq) == int(frag.FragTotal)+1 {
		c.finalize(frag.SeqID)
	}
}

// finalize removes the sequence and tries to turn it into a message.
// Failures are silent: a sequence whose fragments disagree on their total,
// or that cannot be stitched back together, is simply discarded.
func (c *FragmentCombiner) finalize(seqID uint32) {
	seq := c.pending[seqID]
	delete(c.pending, seqID)
	c.dropTouch(seqID)

	frags := make([]packet.Fragment, 0, len(seq))
	for _, pf := range seq {
		frags = append(frags, pf.frag)
	}
	coherent := true
	for _, f := range frags[1:] {
		if f.FragTotal != frags[0].FragTotal {
			coherent = false
			break
		}
	}
	if !coherent {
		logging.Debug("discarding sequence with mismatched fragment totals",
			zap.Uint32("seqID", seqID))
	} else if message, err := packet.BuildData(frags); err != nil {
		logging.Debug("discarding unreassemblable sequence",
			zap.Uint32("seqID", seqID), zap.Error(err))
	} else {
		c.out = append(c.out, message)
	}

	for _, pf := range seq {
		c.recycle(pf)
	}
}

// NextOutMessage pops the oldest completed message, if any.
func (c *FragmentCombiner) NextOutMessage() ([]byte, bool) {
	if len(c.out) == 0 {
		return nil, false
	}
	message := c.out[0]
	c.out = c.out[1:]
	return message, true
}

// ExtractOutMessages returns every completed message and empties the
// internal queue.
func (c *FragmentCombiner) ExtractOutMessages() [][]byte {
	if len(c.out) == 0 {
		return nil
	}
	out := c.out
	c.out = nil
	return out
}

// PendingSequences returns how many incomplete sequences are in flight.
func (c *FragmentCombiner) PendingSequences() int {
	return len(c.pending)
}

func (c *FragmentCombiner) touch(seqID uint32) {
	c.dropTouch(seqID)
	c.touchOrder = append(c.touchOrder, seqID)
}

func (c *FragmentCombiner) dropTouch(seqID uint32) {
	for i, id := range c.touchOrder {
		if id == seqID {
			c.touchOrder = append(c.touchOrder[:i], c.touchOrder[i+1:]...)
			return
		}
	}
}

func (c *FragmentCombiner) evictOldest() {
	if len(c.touchOrder) == 0 {
		return
	}
	seqID := c.touchOrder[0]
	c.touchOrder = c.touchOrder[1:]
	seq := c.pending[seqID]
	delete(c.pending, seqID)
	for _, pf := range seq {
		c.recycle(pf)
	}
	logging.Debug("evicted stale incomplete sequence",
		zap.Uint32("seqID", seqID), zap.Int("fragments", len(seq)))
}

func (c *FragmentCombiner) recycle(pf *pendingFragment) {
	if pf.owned == nil || c.pool == nil {
		return
	}
	buf, _ := pf.owned.IntoBuffer()
	c.pool.Put(buf)
}
