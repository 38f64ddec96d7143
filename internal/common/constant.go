package common

// HTTP header names of the request signature scheme.
const (
	AuthorizationHeader = "Authorization"
	DigestHeader        = "Digest"
	SentAtHeader        = "X-Sent-At"
	RequestIDHeader     = "X-Request-Id"
)

// SaltSize is the length in bytes of every random salt (256 bits).
const SaltSize = 32
