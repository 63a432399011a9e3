package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		host    string
		port    int
		useTLS  bool
		wantErr bool
	}{
		{name: "cloud https", url: "https://xyz.cloud.qdrant.io:6333", host: "xyz.cloud.qdrant.io", port: 6334, useTLS: true},
		{name: "local http", url: "http://localhost:6333", host: "localhost", port: 6334},
		{name: "explicit grpc port", url: "http://localhost:6334", host: "localhost", port: 6334},
		{name: "custom port kept", url: "https://qdrant.internal:7443", host: "qdrant.internal", port: 7443, useTLS: true},
		{name: "no port defaults to grpc", url: "http://qdrant", host: "qdrant", port: 6334},
		{name: "missing host", url: "not a url", wantErr: true},
		{name: "bad port", url: "http://host:abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := parseURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.useTLS, useTLS)
		})
	}
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "abc", truncateText("abc", 5))
	assert.Equal(t, "abcde", truncateText("abcdefgh", 5))
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "www.ons.gov.uk", hostOf("https://www.ons.gov.uk/bulletin"))
	assert.Empty(t, hostOf("://bad"))
}
