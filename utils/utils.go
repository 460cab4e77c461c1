// Package utils provides utility functions for the application.
package utils

import (
	"crypto/rand"
	"math/big"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func ToPtr[T any](v T) *T {
	return &v
}

// FirstNonEmpty returns the first non-empty argument, or "" if none
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// RandomCode returns a base62 string of length n drawn from crypto/rand
func RandomCode(n int) (string, error) {
	max := big.NewInt(int64(len(base62Alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = base62Alphabet[idx.Int64()]
	}
	return string(b), nil
}
