package state

import (
	"encoding/base64"
	"fmt"
	"strings"
)

func (k SharedKey) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(k[:])), nil
}

func (k *SharedKey) UnmarshalText(text []byte) error {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	if len(data) != len(k) {
		return fmt.Errorf("shared key must be %d bytes, got %d", len(k), len(data))
	}
	*k = SharedKey(data)
	return nil
}
