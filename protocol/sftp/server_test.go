package sftp

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/ftpkit/ftpkit/protocol/sftp/hostkey"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testServer is an in-process SSH server exposing an in-memory SFTP filesystem.
type testServer struct {
	addr     *net.TCPAddr
	hostKey  ssh.PublicKey
	user     string
	password string
	clientPK ssh.PublicKey
	sessions atomic.Int32
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	srv := &testServer{hostKey: signer.PublicKey(), user: "deploy", password: "hunter2"}

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == srv.user && string(pass) == srv.password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if meta.User() == srv.user && srv.clientPK != nil && string(key.Marshal()) == string(srv.clientPK.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })
	srv.addr = listener.Addr().(*net.TCPAddr) //nolint:forcetypeassert

	handlers := sftp.InMemHandler()
	go func() {
		for {
			nc, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.serve(nc, config, handlers)
		}
	}()

	return srv
}

func (s *testServer) serve(nc net.Conn, config *ssh.ServerConfig, handlers sftp.Handlers) {
	_, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		_ = nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		s.sessions.Add(1)
		go func(in <-chan *ssh.Request) {
			for req := range in {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				_ = req.Reply(ok, nil)
			}
		}(requests)
		go func() {
			server := sftp.NewRequestServer(channel, handlers)
			_ = server.Serve()
			_ = server.Close()
		}()
	}
}

func (s *testServer) config() Config {
	cfg := Config{
		User:     s.user,
		Password: s.password,
		HostKey:  string(ssh.MarshalAuthorizedKey(s.hostKey)),
	}
	cfg.Address = s.addr.IP.String()
	cfg.Port = s.addr.Port
	return cfg
}

// isolate keeps the tests away from the user's ssh config, keys and agent.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")
	origGet, origGetAll, origEnv := SSHConfigGet, SSHConfigGetAll, hostkey.KnownHostsPathFromEnv
	SSHConfigGet = func(string, string) string { return "" }
	SSHConfigGetAll = func(string, string) []string { return nil }
	hostkey.KnownHostsPathFromEnv = func() (string, bool) { return "", false }
	t.Cleanup(func() {
		SSHConfigGet, SSHConfigGetAll, hostkey.KnownHostsPathFromEnv = origGet, origGetAll, origEnv
	})
}
