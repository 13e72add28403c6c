package transport

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/knet-org/knet/pkg/packet"
)

func splitMessage(t *testing.T, data []byte, seqID uint32) []packet.Fragment {
	t.Helper()
	stream, err := packet.BuildFragments(data, seqID)
	require.NoError(t, err)
	var fragments []packet.Fragment
	for {
		frag, ok := stream.Next()
		if !ok {
			return fragments
		}
		fragments = append(fragments, frag)
	}
}

func TestCombinerInterleavedSequences(t *testing.T) {
	fragments := []packet.Fragment{
		{SeqID: 3, FragID: 1, FragTotal: 2, Data: []byte{0, 5}},
		{SeqID: 4, FragID: 1, FragTotal: 2, Data: []byte{4, 0}},
		{SeqID: 7, FragID: 0, FragTotal: 0, Data: []byte{64, 64}},
		{SeqID: 5, FragID: 1, FragTotal: 2, Data: []byte{4, 5}},
		{SeqID: 5, FragID: 0, FragTotal: 2, Data: []byte{1, 2, 3}},
		{SeqID: 5, FragID: 2, FragTotal: 2, Data: []byte{6, 7, 8, 9}},
		{SeqID: 6, FragID: 1, FragTotal: 2, Data: []byte{14, 5}},
	}
	combiner := NewFragmentCombiner()
	for _, frag := range fragments {
		combiner.Push(frag)
	}

	// Completion order, not sequence id order: 7 finished first, then 5.
	message, ok := combiner.NextOutMessage()
	require.True(t, ok)
	require.Equal(t, []byte{64, 64}, message)
	message, ok = combiner.NextOutMessage()
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, message)
	_, ok = combiner.NextOutMessage()
	require.False(t, ok, "sequences 3, 4 and 6 are incomplete")
}

func TestCombinerShuffledRoundTrip(t *testing.T) {
	data := make([]byte, 40_000)
	rng := rand.New(rand.NewSource(1))
	rng.Read(data)

	fragments := splitMessage(t, data, 11)
	rng.Shuffle(len(fragments), func(i, j int) {
		fragments[i], fragments[j] = fragments[j], fragments[i]
	})

	combiner := NewFragmentCombiner()
	for _, frag := range fragments {
		combiner.Push(frag)
	}
	out := combiner.ExtractOutMessages()
	require.Len(t, out, 1)
	require.Equal(t, data, out[0])
}

// Two-fragment message pushed in reverse order.
func TestCombinerReverseOrder(t *testing.T) {
	data := make([]byte, 2048)
	fragments := splitMessage(t, data, 1)
	require.Len(t, fragments, 2)

	combiner := NewFragmentCombiner()
	combiner.Push(fragments[1])
	combiner.Push(fragments[0])

	message, ok := combiner.NextOutMessage()
	require.True(t, ok)
	require.Equal(t, data, message)
}

func TestCombinerDuplicateFragment(t *testing.T) {
	data := make([]byte, 3100)
	for i := range data {
		data[i] = byte(i)
	}
	fragments := splitMessage(t, data, 2)
	require.Len(t, fragments, 3)

	combiner := NewFragmentCombiner()
	combiner.Push(fragments[0])
	combiner.Push(fragments[1])
	combiner.Push(fragments[0])
	combiner.Push(fragments[2])

	out := combiner.ExtractOutMessages()
	require.Len(t, out, 1, "duplicates must not produce spurious messages")
	require.Equal(t, data, out[0])
}

func TestCombinerMismatchedFragTotal(t *testing.T) {
	combiner := NewFragmentCombiner()
	combiner.Push(packet.Fragment{SeqID: 9, FragID: 0, FragTotal: 1, Data: []byte{1}})
	combiner.Push(packet.Fragment{SeqID: 9, FragID: 1, FragTotal: 2, Data: []byte{2}})
	combiner.Push(packet.Fragment{SeqID: 9, FragID: 2, FragTotal: 2, Data: []byte{3}})

	_, ok := combiner.NextOutMessage()
	require.False(t, ok, "a sequence with disagreeing totals is discarded")
	require.Zero(t, combiner.PendingSequences())
}

func TestCombinerExtractDrains(t *testing.T) {
	combiner := NewFragmentCombiner()
	combiner.Push(packet.Fragment{SeqID: 1, FragID: 0, FragTotal: 0, Data: []byte{1}})
	combiner.Push(packet.Fragment{SeqID: 2, FragID: 0, FragTotal: 0, Data: []byte{2}})

	require.Len(t, combiner.ExtractOutMessages(), 2)
	require.Empty(t, combiner.ExtractOutMessages())
	_, ok := combiner.NextOutMessage()
	require.False(t, ok)
}

func TestCombinerEviction(t *testing.T) {
	combiner := NewFragmentCombiner()
	// Fill the combiner with incomplete two-fragment sequences.
	for seqID := uint32(0); seqID < MaxPendingSequences; seqID++ {
		combiner.Push(packet.Fragment{SeqID: seqID, FragID: 0, FragTotal: 1, Data: []byte{1}})
	}
	require.Equal(t, MaxPendingSequences, combiner.PendingSequences())

	// One more sequence pushes out the least recently touched (seq 0).
	combiner.Push(packet.Fragment{SeqID: 9999, FragID: 0, FragTotal: 1, Data: []byte{1}})
	require.Equal(t, MaxPendingSequences, combiner.PendingSequences())

	// Completing the evicted sequence restarts it instead of finishing it.
	combiner.Push(packet.Fragment{SeqID: 0, FragID: 1, FragTotal: 1, Data: []byte{2}})
	_, ok := combiner.NextOutMessage()
	require.False(t, ok, "the evicted sequence lost its first fragment")
}

func TestCombinerEvictionKeepsTouchedSequences(t *testing.T) {
	combiner := NewFragmentCombiner()
	for seqID := uint32(0); seqID < MaxPendingSequences; seqID++ {
		combiner.Push(packet.Fragment{SeqID: seqID, FragID: 0, FragTotal: 1, Data: []byte{1}})
	}
	// Touch sequence 0 so 1 becomes the eviction candidate.
	combiner.Push(packet.Fragment{SeqID: 0, FragID: 0, FragTotal: 1, Data: []byte{1}})
	combiner.Push(packet.Fragment{SeqID: 8888, FragID: 0, FragTotal: 1, Data: []byte{1}})

	// Sequence 0 must still complete.
	combiner.Push(packet.Fragment{SeqID: 0, FragID: 1, FragTotal: 1, Data: []byte{2}})
	message, ok := combiner.NextOutMessage()
	require.True(t, ok)
	require.Equal(t, []byte{1, 2}, message)
}
