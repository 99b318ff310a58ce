//go:build windows

package sftp

import (
	"errors"
	"fmt"

	"github.com/Microsoft/go-winio"
	"github.com/davidmz/go-pageant"
	"golang.org/x/crypto/ssh/agent"
)

const openSSHAgentPipe = `\\.\pipe\openssh-ssh-agent`

// ErrSSHAgent is returned when connection to SSH agent fails
var ErrSSHAgent = errors.New("connect ssh agent")

func agentClient() (agent.Agent, error) {
	if pageant.Available() {
		return pageant.New(), nil
	}
	sock, err := winio.DialPipe(openSSHAgentPipe, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: can't connect to openssh agent pipe: %w", ErrSSHAgent, err)
	}
	return agent.NewClient(sock), nil
}
