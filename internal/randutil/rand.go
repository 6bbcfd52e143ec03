package randutil

import (
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

var letters = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

// Bytes generates random bytes (n is number of bytes).  The output is drawn
// from a small alphabet so that compression codecs have something to do.
func Bytes(random *rand.Rand, n int) []byte {
	bs := make([]byte, n)
	for i := range bs {
		bs[i] = letters[random.Intn(len(letters))]
	}
	return bs
}

// UniqueString adds a UUID suffix to prefix.
func UniqueString(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[0:12]
}
