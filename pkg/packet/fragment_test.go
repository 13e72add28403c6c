package packet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildFragmentsSingle(t *testing.T) {
	data := make([]byte, 1024)
	stream, err := BuildFragments(data, 1)
	require.NoError(t, err)
	require.Equal(t, 1, stream.Len())

	frag, ok := stream.Next()
	require.True(t, ok)
	require.Equal(t, uint32(1), frag.SeqID)
	require.Equal(t, uint8(0), frag.FragID)
	require.Equal(t, uint8(0), frag.FragTotal)
	require.Len(t, frag.Data, 1024)

	_, ok = stream.Next()
	require.False(t, ok, "stream should be exhausted after one fragment")
}

func TestBuildFragmentsMultiple(t *testing.T) {
	data := make([]byte, 2048)
	stream, err := BuildFragments(data, 1)
	require.NoError(t, err)
	require.Equal(t, 2, stream.Len())

	frag1, ok := stream.Next()
	require.True(t, ok)
	frag2, ok := stream.Next()
	require.True(t, ok)
	_, ok = stream.Next()
	require.False(t, ok)

	require.Equal(t, uint8(0), frag1.FragID)
	require.Equal(t, uint8(1), frag2.FragID)
	require.Equal(t, uint8(1), frag1.FragTotal)
	require.Equal(t, uint8(1), frag2.FragTotal)
	require.Len(t, frag1.Data, MaxFragmentPayload)
	require.Len(t, frag2.Data, 2048-MaxFragmentPayload)
}

func TestBuildFragmentsExactMultiple(t *testing.T) {
	stream, err := BuildFragments(make([]byte, 3*MaxFragmentPayload), 7)
	require.NoError(t, err)
	require.Equal(t, 3, stream.Len())
	for i := 0; i < 3; i++ {
		frag, ok := stream.Next()
		require.True(t, ok)
		require.Equal(t, uint8(i), frag.FragID)
		require.Len(t, frag.Data, MaxFragmentPayload)
	}
}

func TestBuildFragmentsTooLarge(t *testing.T) {
	data := make([]byte, MaxMessageSize+1)
	_, err := BuildFragments(data, 1)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestBuildFragmentsAtCap(t *testing.T) {
	stream, err := BuildFragments(make([]byte, MaxMessageSize), 1)
	require.NoError(t, err)
	require.Equal(t, MaxFragmentsInMessage, stream.Len())
}

func TestBuildFragmentsEmptyPanics(t *testing.T) {
	require.Panics(t, func() {
		BuildFragments(nil, 1)
	})
}

func TestFragmentStreamResetAndClone(t *testing.T) {
	data := make([]byte, 2048)
	stream, err := BuildFragments(data, 9)
	require.NoError(t, err)

	first, ok := stream.Next()
	require.True(t, ok)

	// A clone mid-iteration continues independently.
	clone := stream.Clone()
	fromClone, ok := clone.Next()
	require.True(t, ok)
	require.Equal(t, uint8(1), fromClone.FragID)

	// Resetting restarts from the first fragment without reallocation.
	stream.Reset()
	again, ok := stream.Next()
	require.True(t, ok)
	require.Equal(t, first.FragID, again.FragID)
	require.Same(t, &first.Data[0], &again.Data[0], "fragments should alias the same payload")
}

func TestBuildDataOutOfOrder(t *testing.T) {
	fragments := []Fragment{
		{SeqID: 5, FragID: 1, FragTotal: 2, Data: []byte{4, 5}},
		{SeqID: 5, FragID: 0, FragTotal: 2, Data: []byte{1, 2, 3}},
		{SeqID: 5, FragID: 2, FragTotal: 2, Data: []byte{6, 7, 8, 9}},
	}
	data, err := BuildData(fragments)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, data)
}

func TestBuildDataFragIDOutOfRange(t *testing.T) {
	fragments := []Fragment{
		{SeqID: 5, FragID: 0, FragTotal: 1, Data: []byte{1, 2, 3}},
		{SeqID: 5, FragID: 5, FragTotal: 1, Data: []byte{6, 7, 8, 9}},
	}
	_, err := BuildData(fragments)
	require.ErrorIs(t, err, ErrIncoherentFragments)
}

func TestBuildDataDuplicateFragID(t *testing.T) {
	fragments := []Fragment{
		{SeqID: 5, FragID: 0, FragTotal: 1, Data: []byte{1, 2, 3}},
		{SeqID: 5, FragID: 0, FragTotal: 1, Data: []byte{6, 7, 8, 9}},
	}
	_, err := BuildData(fragments)
	require.ErrorIs(t, err, ErrIncoherentFragments)
}

func TestBuildDataEmpty(t *testing.T) {
	_, err := BuildData(nil)
	require.ErrorIs(t, err, ErrIncoherentFragments)
}

func TestSplitAndRebuild(t *testing.T) {
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i * 31)
	}
	stream, err := BuildFragments(data, 42)
	require.NoError(t, err)

	var fragments []Fragment
	for {
		frag, ok := stream.Next()
		if !ok {
			break
		}
		fragments = append(fragments, frag)
	}
	rebuilt, err := BuildData(fragments)
	require.NoError(t, err)
	require.Equal(t, data, rebuilt)
}
