package state

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrInvalidToken = errors.New("invalid token")

// Seal encrypts a data value with the shared key. The token is base64(nonce || ciphertext).
func Seal(value string, key SharedKey) (string, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	_, err = rand.Read(nonce)
	if err != nil {
		return "", err
	}
	cipherText := aead.Seal(make([]byte, 0), nonce, []byte(value), make([]byte, 0))
	return base64.StdEncoding.EncodeToString(append(nonce, cipherText...)), nil
}

// Open reverses Seal. Tokens that were not produced by Seal with the same key fail with ErrInvalidToken.
func Open(token string, key SharedKey) (string, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if len(data) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", fmt.Errorf("%w: too short", ErrInvalidToken)
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return "", err
	}
	nonce := data[:chacha20poly1305.NonceSizeX]
	cipherText := data[chacha20poly1305.NonceSizeX:]
	plainText, err := aead.Open(make([]byte, 0), nonce, cipherText, make([]byte, 0))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return string(plainText), nil
}
