package nip46

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthGateDeduplicates(t *testing.T) {
	var urls []string
	gate := newAuthGate(func(url string) { urls = append(urls, url) })

	challenge := Response{ID: "gn-1", Result: "auth_url", Error: "https://auth.example/1"}
	require.True(t, gate.challenge(challenge))
	require.True(t, gate.challenge(challenge))
	require.True(t, gate.challenge(challenge))
	require.Equal(t, []string{"https://auth.example/1"}, urls)

	// a different request id is a fresh challenge
	require.True(t, gate.challenge(Response{ID: "gn-2", Result: "auth_url", Error: "https://auth.example/2"}))
	require.Equal(t, []string{"https://auth.example/1", "https://auth.example/2"}, urls)
}

func TestAuthGatePassesThroughRegularResponses(t *testing.T) {
	gate := newAuthGate(func(url string) { t.Fatalf("unexpected notification for %s", url) })

	require.False(t, gate.challenge(Response{ID: "gn-1", Result: "pong"}))
	require.False(t, gate.challenge(Response{ID: "gn-1", Error: "denied"}))

	// the sentinel without a URL is malformed, not a challenge
	require.False(t, gate.challenge(Response{ID: "gn-1", Result: "auth_url"}))

	// a legitimate result that happens to spell the sentinel but carries no
	// error field must still complete the request
	require.False(t, gate.challenge(Response{ID: "gn-3", Result: "auth_url", Error: ""}))
}

func TestAuthGateNilNotify(t *testing.T) {
	gate := newAuthGate(nil)
	require.True(t, gate.challenge(Response{ID: "gn-1", Result: "auth_url", Error: "https://x"}))
}
