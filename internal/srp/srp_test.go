package srp

import (
	"math/big"
	"testing"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	identity  string
	salt      []byte
	stretched []byte
	verifier  []byte
}

func newAccount(t *testing.T) account {
	t.Helper()
	salt := common.GenerateRandByteArray(common.SaltSize)
	stretched := common.GenerateRandByteArray(32)
	return account{
		identity:  "alice@example.com",
		salt:      salt,
		stretched: stretched,
		verifier:  Verifier(salt, stretched),
	}
}

func TestExchange_Success(t *testing.T) {
	acc := newAccount(t)

	client := NewClient(acc.identity)
	server := NewServer(acc.identity, acc.salt, acc.verifier)

	m1, err := client.ComputeProof(acc.salt, acc.stretched, server.PublicEphemeral())
	require.NoError(t, err)

	m2, serverKey, err := server.VerifyClient(client.PublicEphemeral(), m1)
	require.NoError(t, err)

	require.NoError(t, client.VerifyServer(m2))
	assert.Equal(t, client.SessionKey(), serverKey)
	assert.Len(t, serverKey, 32)
}

func TestExchange_RestoredServer(t *testing.T) {
	acc := newAccount(t)
	client := NewClient(acc.identity)
	started := NewServer(acc.identity, acc.salt, acc.verifier)

	restored := RestoreServer(acc.identity, acc.salt, acc.verifier, started.Secret())
	require.Equal(t, started.PublicEphemeral(), restored.PublicEphemeral())

	m1, err := client.ComputeProof(acc.salt, acc.stretched, started.PublicEphemeral())
	require.NoError(t, err)
	_, _, err = restored.VerifyClient(client.PublicEphemeral(), m1)
	require.NoError(t, err)
}

func TestExchange_WrongPassword(t *testing.T) {
	acc := newAccount(t)
	client := NewClient(acc.identity)
	server := NewServer(acc.identity, acc.salt, acc.verifier)

	m1, err := client.ComputeProof(acc.salt, common.GenerateRandByteArray(32), server.PublicEphemeral())
	require.NoError(t, err)

	_, _, err = server.VerifyClient(client.PublicEphemeral(), m1)
	assert.ErrorIs(t, err, ErrBadProof)
}

func TestExchange_IdentityBound(t *testing.T) {
	acc := newAccount(t)
	client := NewClient("mallory@example.com")
	server := NewServer(acc.identity, acc.salt, acc.verifier)

	m1, err := client.ComputeProof(acc.salt, acc.stretched, server.PublicEphemeral())
	require.NoError(t, err)
	_, _, err = server.VerifyClient(client.PublicEphemeral(), m1)
	assert.ErrorIs(t, err, ErrBadProof)
}

func TestClient_RejectsBadServerProof(t *testing.T) {
	acc := newAccount(t)
	client := NewClient(acc.identity)
	assert.ErrorIs(t, client.VerifyServer([]byte("x")), ErrBadProof, "before ComputeProof")

	server := NewServer(acc.identity, acc.salt, acc.verifier)
	_, err := client.ComputeProof(acc.salt, acc.stretched, server.PublicEphemeral())
	require.NoError(t, err)
	assert.ErrorIs(t, client.VerifyServer(make([]byte, 32)), ErrBadProof)
}

func TestZeroModNEphemeralsRejected(t *testing.T) {
	acc := newAccount(t)

	client := NewClient(acc.identity)
	_, err := client.ComputeProof(acc.salt, acc.stretched, pad(big.NewInt(0)))
	assert.ErrorIs(t, err, ErrInvalidPublic)
	_, err = client.ComputeProof(acc.salt, acc.stretched, pad(bigN))
	assert.ErrorIs(t, err, ErrInvalidPublic)

	server := NewServer(acc.identity, acc.salt, acc.verifier)
	_, _, err = server.VerifyClient(pad(bigN), []byte("proof"))
	assert.ErrorIs(t, err, ErrInvalidPublic)

	assert.ErrorIs(t, CheckClientPublic(make([]byte, byteLen)), ErrInvalidPublic)
	assert.NoError(t, CheckClientPublic(client.PublicEphemeral()))
}

func TestFakePublicEphemeral_Shape(t *testing.T) {
	fake := FakePublicEphemeral()
	real := NewServer("x", common.GenerateRandByteArray(32), Verifier(common.GenerateRandByteArray(32), []byte("k"))).PublicEphemeral()

	assert.Len(t, fake, len(real))
	assert.NotEqual(t, fake, FakePublicEphemeral())
	assert.NoError(t, CheckClientPublic(fake))
}

func TestVerifier_Deterministic(t *testing.T) {
	salt := common.GenerateRandByteArray(32)
	assert.Equal(t, Verifier(salt, []byte("k")), Verifier(salt, []byte("k")))
	assert.NotEqual(t, Verifier(salt, []byte("k")), Verifier(common.GenerateRandByteArray(32), []byte("k")))
	assert.Len(t, Verifier(salt, []byte("k")), byteLen)
}
