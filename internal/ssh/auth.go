package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// UseAgent is the key setting that asks the running ssh-agent for keys
// instead of reading a key file.
const UseAgent = "agent"

// LoadSigners returns the keys named by key: nothing when key is empty,
// every agent key for UseAgent, otherwise the private key file at that
// path.
func LoadSigners(key string) ([]ssh.Signer, error) {
	switch key {
	case "":
		return nil, nil
	case UseAgent:
		return agentSigners(os.Getenv("SSH_AUTH_SOCK"))
	}

	pemBytes, err := os.ReadFile(key)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", key, err)
	}
	return []ssh.Signer{signer}, nil
}

// agentSigners asks the agent listening on socket for its keys. The agent
// connection stays open for as long as the signers are in use.
func agentSigners(socket string) ([]ssh.Signer, error) {
	if socket == "" {
		return nil, errors.New("ssh agent: SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("ssh agent: %w", err)
	}

	signers, err := agent.NewClient(conn).Signers()
	if err == nil && len(signers) == 0 {
		err = errors.New("no keys loaded")
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh agent: %w", err)
	}
	return signers, nil
}
