package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_DeterministicForIdenticalInput(t *testing.T) {
	messages := []Message{{Role: RoleUser, Content: "hello"}}
	params := Params{MaxTokens: 100, Temperature: 0.5}

	a := Fingerprint("m1", messages, params)
	b := Fingerprint("m1", messages, params)
	assert.Equal(t, a, b)
}

func TestFingerprint_DiffersOnModel(t *testing.T) {
	messages := []Message{{Role: RoleUser, Content: "hello"}}
	params := Params{MaxTokens: 100}

	a := Fingerprint("m1", messages, params)
	b := Fingerprint("m2", messages, params)
	assert.NotEqual(t, a, b)
}

func TestFingerprint_DiffersOnMessageContent(t *testing.T) {
	params := Params{MaxTokens: 100}

	a := Fingerprint("m1", []Message{{Role: RoleUser, Content: "hello"}}, params)
	b := Fingerprint("m1", []Message{{Role: RoleUser, Content: "goodbye"}}, params)
	assert.NotEqual(t, a, b)
}

func TestFingerprint_IgnoresNonCacheRelevantParams(t *testing.T) {
	messages := []Message{{Role: RoleUser, Content: "hello"}}

	a := Fingerprint("m1", messages, Params{MaxTokens: 100, Stream: true})
	b := Fingerprint("m1", messages, Params{MaxTokens: 100, Stream: false})
	assert.Equal(t, a, b, "stream is not part of the cache key")
}
