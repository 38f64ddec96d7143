package srp

import (
	"crypto/hmac"
	"errors"
	"math/big"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
)

var (
	// ErrInvalidPublic is returned for a peer ephemeral that is zero modulo N
	// or when the scrambling parameter u is zero.
	ErrInvalidPublic = errors.New("srp: invalid public ephemeral")
	// ErrBadProof is returned when a proof does not match.
	ErrBadProof = errors.New("srp: proof mismatch")
)

// Verifier computes v = g^x for registration. stretched is the PBKDF2 output
// of the password; only v and the salts are ever sent to the server.
func Verifier(srpSalt, stretched []byte) []byte {
	x := computeX(srpSalt, stretched)
	return pad(new(big.Int).Exp(bigG, x, bigN))
}

// FakePublicEphemeral returns a random group element shaped exactly like a
// server ephemeral B. It is used when the account does not exist.
func FakePublicEphemeral() []byte {
	r := new(big.Int).SetBytes(common.GenerateRandByteArray(secretLen))
	return pad(new(big.Int).Exp(bigG, r, bigN))
}

// Client is one login attempt on the client side.
type Client struct {
	identity string
	a        *big.Int
	A        *big.Int

	key []byte
	m1  []byte
	m2  []byte
}

// NewClient creates a client with a fresh ephemeral secret. identity must
// be the normalized email.
func NewClient(identity string) *Client {
	a := new(big.Int).SetBytes(common.GenerateRandByteArray(secretLen))
	return &Client{
		identity: identity,
		a:        a,
		A:        new(big.Int).Exp(bigG, a, bigN),
	}
}

// PublicEphemeral returns PAD(A).
func (c *Client) PublicEphemeral() []byte {
	return pad(c.A)
}

// ComputeProof derives the session key from the server's reply and returns
// the client proof M1.
func (c *Client) ComputeProof(srpSalt, stretched, serverPublic []byte) ([]byte, error) {
	B := new(big.Int).SetBytes(serverPublic)
	if isZeroMod(B) {
		return nil, ErrInvalidPublic
	}
	u := computeU(c.A, B)
	if u.Sign() == 0 {
		return nil, ErrInvalidPublic
	}
	x := computeX(srpSalt, stretched)

	// S = (B - k*g^x) ^ (a + u*x) mod N
	kgx := new(big.Int).Exp(bigG, x, bigN)
	kgx.Mul(kgx, bigK)
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, bigN)
	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, c.a)
	S := new(big.Int).Exp(base, exp, bigN)

	c.key = hash(pad(S))
	c.m1 = clientProof(c.identity, srpSalt, c.A, B, c.key)
	c.m2 = serverProof(c.A, c.m1, c.key)
	return c.m1, nil
}

// VerifyServer checks the server proof M2.
func (c *Client) VerifyServer(proof []byte) error {
	if c.m2 == nil || !hmac.Equal(c.m2, proof) {
		return ErrBadProof
	}
	return nil
}

// SessionKey returns K once ComputeProof succeeded.
func (c *Client) SessionKey() []byte {
	return c.key
}

// Server is the server side of one handshake. It can be rebuilt from the
// persisted ephemeral secret b between the start and finish requests.
type Server struct {
	identity string
	salt     []byte
	v        *big.Int
	b        *big.Int
	B        *big.Int
}

// NewServer creates a server side with a fresh ephemeral secret.
func NewServer(identity string, srpSalt, verifier []byte) *Server {
	return RestoreServer(identity, srpSalt, verifier, common.GenerateRandByteArray(secretLen))
}

// RestoreServer rebuilds the server side from a stored secret.
func RestoreServer(identity string, srpSalt, verifier, secret []byte) *Server {
	v := new(big.Int).SetBytes(verifier)
	b := new(big.Int).SetBytes(secret)

	// B = k*v + g^b mod N
	B := new(big.Int).Mul(bigK, v)
	B.Add(B, new(big.Int).Exp(bigG, b, bigN))
	B.Mod(B, bigN)

	return &Server{identity: identity, salt: srpSalt, v: v, b: b, B: B}
}

// Secret returns the ephemeral secret b for persistence.
func (s *Server) Secret() []byte {
	return s.b.FillBytes(make([]byte, secretLen))
}

// PublicEphemeral returns PAD(B).
func (s *Server) PublicEphemeral() []byte {
	return pad(s.B)
}

// CheckClientPublic rejects an A that is zero modulo N.
func CheckClientPublic(clientPublic []byte) error {
	if isZeroMod(new(big.Int).SetBytes(clientPublic)) {
		return ErrInvalidPublic
	}
	return nil
}

// VerifyClient checks the client proof M1 against A and, on success, returns
// the server proof M2 and the session key K.
func (s *Server) VerifyClient(clientPublic, proof []byte) (m2, key []byte, err error) {
	A := new(big.Int).SetBytes(clientPublic)
	if isZeroMod(A) {
		return nil, nil, ErrInvalidPublic
	}
	u := computeU(A, s.B)
	if u.Sign() == 0 {
		return nil, nil, ErrInvalidPublic
	}

	// S = (A * v^u) ^ b mod N
	S := new(big.Int).Exp(s.v, u, bigN)
	S.Mul(S, A)
	S.Mod(S, bigN)
	S.Exp(S, s.b, bigN)

	key = hash(pad(S))
	expected := clientProof(s.identity, s.salt, A, s.B, key)
	if !hmac.Equal(expected, proof) {
		return nil, nil, ErrBadProof
	}
	return serverProof(A, proof, key), key, nil
}
