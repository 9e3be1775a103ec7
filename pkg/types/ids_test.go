package types

import (
	"crypto/ed25519"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerIDFromPublicKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	id := PeerIDFromPublicKey(pub)
	assert.False(t, id.IsEmpty())
	assert.Equal(t, id, PeerIDFromPublicKey(pub), "同一公钥应派生相同 ID")
	assert.Len(t, id.ShortString(), 8)

	parsed, err := ParsePeerID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParsePeerID_Invalid(t *testing.T) {
	_, err := ParsePeerID("not-base58-0OIl")
	assert.ErrorIs(t, err, ErrInvalidPeerID)

	_, err = ParsePeerID("3mJr7AoUXx2Wqd")
	assert.ErrorIs(t, err, ErrInvalidPeerID)
}

func TestChannelID_Equality(t *testing.T) {
	g := uuid.New()
	a := ChannelID{Proc: ProcRef{ID: g, Version: 3}, Code: "elev"}
	b := ChannelID{Proc: ProcRef{ID: g, Version: 3}, Code: "elev"}
	c := ChannelID{Proc: ProcRef{ID: g, Version: 4}, Code: "elev"}
	d := ChannelID{Proc: ProcRef{ID: g, Version: 3}, Code: "rgb"}

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)

	m := map[ChannelID]int{a: 1}
	assert.Equal(t, 1, m[b])
	assert.Equal(t, g.String()+"[3]:elev", a.String())
	assert.Equal(t, g, a.DataSet())
}
