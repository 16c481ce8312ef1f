package netp2p

import (
	"bytes"
	"testing"

	"github.com/albatross-sync/core/hash"
	"github.com/stretchr/testify/require"
)

func TestGobCodecRoundTripsRequestBlockHashes(t *testing.T) {
	var h hash.Hash
	h[0] = 7
	req := &RequestBlockHashes{
		Locators:          []hash.Hash{h},
		MaxBlocks:         42,
		Filter:            FilterElectionOnly,
		RequestIdentifier: 99,
	}

	var buf bytes.Buffer
	codec := GobCodec{}
	require.NoError(t, codec.Encode(&buf, req))

	var got RequestBlockHashes
	require.NoError(t, codec.Decode(&buf, &got))
	require.Equal(t, *req, got)
}

func TestGobCodecRoundTripsNilHistoryChunk(t *testing.T) {
	msg := &HistoryChunk{RequestIdentifier: 5}

	var buf bytes.Buffer
	codec := GobCodec{}
	require.NoError(t, codec.Encode(&buf, msg))

	var got HistoryChunk
	require.NoError(t, codec.Decode(&buf, &got))
	require.Nil(t, got.Chunk)
	require.Equal(t, uint32(5), got.RequestIdentifier)
}

func TestGobCodecDecodeMultipleMessagesFromOneStream(t *testing.T) {
	var buf bytes.Buffer
	codec := GobCodec{}

	first := &RequestEpoch{RequestIdentifier: 1}
	second := &RequestEpoch{RequestIdentifier: 2}
	require.NoError(t, codec.Encode(&buf, first))
	require.NoError(t, codec.Encode(&buf, second))

	var got1, got2 RequestEpoch
	require.NoError(t, codec.Decode(&buf, &got1))
	require.NoError(t, codec.Decode(&buf, &got2))
	require.Equal(t, uint32(1), got1.RequestIdentifier)
	require.Equal(t, uint32(2), got2.RequestIdentifier)
}

func TestGobCodecDecodeTruncatedStreamErrors(t *testing.T) {
	var buf bytes.Buffer
	codec := GobCodec{}
	require.NoError(t, codec.Encode(&buf, &RequestEpoch{RequestIdentifier: 1}))

	truncated := bytes.NewReader(buf.Bytes()[:2]) // cuts off mid length-prefix
	var got RequestEpoch
	require.Error(t, codec.Decode(truncated, &got))
}
