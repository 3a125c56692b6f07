package ssh

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestClientConfigValidate(t *testing.T) {
	t.Parallel()

	signer := mustSigner(t)
	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr string
	}{
		{name: "password", cfg: ClientConfig{Username: "u", Password: "p", HostKeyCallback: ssh.InsecureIgnoreHostKey()}},
		{name: "key", cfg: ClientConfig{Username: "u", Signers: []ssh.Signer{signer}, HostKeyCallback: ssh.InsecureIgnoreHostKey()}},
		{name: "no username", cfg: ClientConfig{Password: "p", HostKeyCallback: ssh.InsecureIgnoreHostKey()}, wantErr: "missing username"},
		{name: "no credentials", cfg: ClientConfig{Username: "u", HostKeyCallback: ssh.InsecureIgnoreHostKey()}, wantErr: "missing password or key"},
		{name: "no host key check", cfg: ClientConfig{Username: "u", Password: "p"}, wantErr: "missing host key callback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestAuthMethodsOrder(t *testing.T) {
	t.Parallel()

	cfg := ClientConfig{Password: "p", Signers: []ssh.Signer{mustSigner(t)}}
	assert.Len(t, cfg.AuthMethods(), 2)

	cfg.Signers = nil
	assert.Len(t, cfg.AuthMethods(), 1)

	cfg.Password = ""
	assert.Empty(t, cfg.AuthMethods())
}

func TestHandshakeClosesConnOnInvalidConfig(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer server.Close()

	_, err := Handshake(client, "pipe:22", ClientConfig{Username: "u"})
	require.ErrorContains(t, err, "missing password or key")

	_, err = client.Write([]byte("x"))
	require.Error(t, err, "conn should be closed")
}
