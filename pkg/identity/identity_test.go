package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)

	msg := []byte("refs/heads/main@deadbeef")
	sig := k.Sign(msg)

	var v Verifier
	assert.True(t, v.Verify(k.NID(), msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)

	sig := k.Sign([]byte("original"))

	var v Verifier
	assert.False(t, v.Verify(k.NID(), []byte("tampered"), sig))
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	k1, err := Generate()
	require.NoError(t, err)
	k2, err := Generate()
	require.NoError(t, err)

	msg := []byte("refs/heads/main@deadbeef")
	sig := k1.Sign(msg)

	var v Verifier
	assert.False(t, v.Verify(k2.NID(), msg, sig))
}
