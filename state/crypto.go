package state

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"
)

// SharedKey is the pre-shared symmetric key used to seal data values in transit
type SharedKey [chacha20poly1305.KeySize]byte

// DefaultSharedKey lets nodes without a configured key interoperate
var DefaultSharedKey = mustParseKey("5sb7hUkLx4O9eN0eyFT0rVl1TEXJ6C2Gm1FjGFydCBA=")

func GenerateKey() SharedKey {
	key := SharedKey{}
	_, err := rand.Read(key[:])
	if err != nil {
		panic(err)
	}
	return key
}

func (k SharedKey) IsZero() bool {
	return k == SharedKey{}
}

func mustParseKey(s string) SharedKey {
	k := SharedKey{}
	err := k.UnmarshalText([]byte(s))
	if err != nil {
		panic(err)
	}
	return k
}
