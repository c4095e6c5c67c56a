package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawPolicySerializeRoundTrip(t *testing.T) {
	p := rawPolicy{min: 2, max: 4}
	var buf bytes.Buffer
	require.NoError(t, p.SerializeKV(&buf, []byte("account-1"), []byte("balance-42")))

	k, v, err := p.DeserializeKV(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("account-1"), k)
	require.Equal(t, []byte("balance-42"), v)
}

func TestRawPolicyOrdering(t *testing.T) {
	p := rawPolicy{min: 2, max: 4}
	require.True(t, p.Less([]byte("a"), []byte("b")))
	require.False(t, p.Less([]byte("b"), []byte("a")))
	require.False(t, p.Less([]byte("a"), []byte("a")))
}
