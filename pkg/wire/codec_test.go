package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miknet/miknet/pkg/cookie"
	"github.com/miknet/miknet/pkg/wire"
)

func sampleCookie() cookie.StateCookie {
	return cookie.Sign(cookie.Tcb{OurTSN: 10, OurToken: 11, TheirTSN: 12, TheirToken: 13}, cookie.Key{1, 2, 3})
}

func TestCodecRoundTrip(t *testing.T) {
	cases := []wire.Gram{
		{Token: 0, Chunks: nil},
		{Token: 42, Chunks: []wire.Chunk{wire.Init{Token: 7, TSN: 8}}},
		{Token: 42, Chunks: []wire.Chunk{wire.InitAck{Token: 7, TSN: 8, Cookie: sampleCookie()}}},
		{Token: 42, Chunks: []wire.Chunk{wire.CookieEcho{Cookie: sampleCookie()}}},
		{Token: 42, Chunks: []wire.Chunk{wire.CookieAck{}}},
		{Token: 42, Chunks: []wire.Chunk{wire.Shutdown{}}},
		{Token: 42, Chunks: []wire.Chunk{wire.ShutdownAck{}}},
		{Token: 42, Chunks: []wire.Chunk{wire.ShutdownComplete{}}},
		{Token: 42, Chunks: []wire.Chunk{wire.CfgMismatch{}}},
		{Token: 42, Chunks: []wire.Chunk{wire.Data{StreamID: 3, Segment: wire.Segment{Seq: 99, Payload: []byte("hello")}}}},
		{Token: 42, Chunks: []wire.Chunk{wire.Data{StreamID: 3, Segment: wire.Segment{Seq: 99, Payload: []byte{}}}}},
		{Token: 42, Chunks: []wire.Chunk{wire.DataAck{StreamID: 3, Seq: 99}}},
		{
			Token: 1,
			Chunks: []wire.Chunk{
				wire.Data{StreamID: 0, Segment: wire.Segment{Seq: 1, Payload: []byte("a")}},
				wire.DataAck{StreamID: 1, Seq: 2},
				wire.Shutdown{},
			},
		},
	}

	for _, g := range cases {
		encoded, err := wire.Encode(g)
		require.NoError(t, err)

		decoded, err := wire.Decode(encoded)
		require.NoError(t, err)

		assert.Equal(t, g.Token, decoded.Token)
		require.Len(t, decoded.Chunks, len(g.Chunks))
		for i := range g.Chunks {
			assert.Equal(t, g.Chunks[i], decoded.Chunks[i])
		}
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	g := wire.Gram{Token: 1, Chunks: []wire.Chunk{wire.Init{Token: 2, TSN: 3}}}
	encoded, err := wire.Encode(g)
	require.NoError(t, err)

	for n := 0; n < len(encoded); n++ {
		_, err := wire.Decode(encoded[:n])
		assert.Error(t, err, "truncating to %d bytes should fail to decode", n)
	}
}

func TestDecodeRejectsTrailingGarbage(t *testing.T) {
	g := wire.Gram{Token: 1, Chunks: []wire.Chunk{wire.CookieAck{}}}
	encoded, err := wire.Encode(g)
	require.NoError(t, err)

	_, err = wire.Decode(append(encoded, 0xff))
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	// token(4) + count=1 + unknown tag byte
	buf := []byte{0, 0, 0, 1, 1, 0xff}
	_, err := wire.Decode(buf)
	assert.ErrorIs(t, err, wire.ErrInvalidGram)
}

func TestDecodeEmptyBuffer(t *testing.T) {
	_, err := wire.Decode(nil)
	assert.ErrorIs(t, err, wire.ErrInvalidGram)
}
