package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind_Retriable(t *testing.T) {
	retriable := []ErrorKind{ErrorKindTimeout, ErrorKindConnection, ErrorKindServer, ErrorKindRateLimit}
	for _, k := range retriable {
		assert.True(t, k.Retriable(), "%s should be retriable", k)
	}

	notRetriable := []ErrorKind{ErrorKindAuth, ErrorKindBadResponse, ErrorKindCancelled, ErrorKindConfig, ErrorKindInternal, ErrorKindNone}
	for _, k := range notRetriable {
		assert.False(t, k.Retriable(), "%s should not be retriable", k)
	}
}
