package sftp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ftpkit/ftpkit/homedir"
	"github.com/ftpkit/ftpkit/log"
	"github.com/ftpkit/ftpkit/protocol"
	"github.com/ftpkit/ftpkit/protocol/sftp/hostkey"
	"golang.org/x/crypto/ssh"
)

var (
	authMethodCache = sync.Map{}
	knownHostsMU    sync.Mutex
)

// ParsePrivateKey parses a PEM encoded private key and returns an auth method for it.
// The callback is used to obtain a passphrase for encrypted keys.
func ParsePrivateKey(key []byte, callback PasswordCallback) (ssh.AuthMethod, error) {
	signer, err := ssh.ParsePrivateKey(key)
	if err == nil {
		return ssh.PublicKeys(signer), nil
	}
	var ppErr *ssh.PassphraseMissingError
	if !errors.As(err, &ppErr) {
		return nil, fmt.Errorf("failed to parse key: %w", err)
	}
	if callback == nil {
		return nil, fmt.Errorf("key is encrypted and no callback provided: %w", err)
	}
	pass, err := callback()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(pass))
	if err != nil {
		return nil, fmt.Errorf("failed to parse key with passphrase: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

func (c *Connection) agentSigners() []ssh.Signer {
	agent, err := agentClient()
	if err != nil {
		log.Trace(context.Background(), "failed to get ssh agent client", log.ErrorAttr(err))
		return nil
	}
	signers, err := agent.Signers()
	if err != nil {
		log.Trace(context.Background(), "failed to list signers from ssh agent", log.ErrorAttr(err))
		return nil
	}
	if len(signers) > 0 {
		c.Log().Debug("using ssh agent", log.KeyCount, len(signers))
	}
	return signers
}

func (c *Connection) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if len(c.AuthMethods) > 0 {
		log.Trace(context.Background(), "using passed-in auth methods", log.KeyCount, len(c.AuthMethods))
		methods = append(methods, c.AuthMethods...)
	}

	if c.PrivateKey != "" {
		am, err := ParsePrivateKey([]byte(c.PrivateKey), c.PasswordCallback)
		if err != nil {
			return nil, fmt.Errorf("%w: private key: %w", protocol.ErrAbort, err)
		}
		methods = append(methods, am)
	}

	signers := c.agentSigners()

	for _, keyPath := range c.keyPaths {
		keyPath, err := homedir.ExpandFile(keyPath)
		if err != nil {
			log.Trace(context.Background(), "expand keypath", log.FileAttr(keyPath), log.ErrorAttr(err))
			continue
		}
		if am, ok := authMethodCache.Load(keyPath); ok {
			switch authM := am.(type) {
			case ssh.AuthMethod:
				log.Trace(context.Background(), "using cached auth method", log.FileAttr(keyPath))
				methods = append(methods, authM)
			case error:
				log.Trace(context.Background(), "already discarded key", log.FileAttr(keyPath), log.ErrorAttr(authM))
			}
			continue
		}
		privateKeyAuth, err := c.pkeySigner(signers, keyPath)
		if err != nil {
			c.Log().Debug("failed to obtain a signer for identity", log.KeyFile, keyPath, log.ErrorAttr(err))
			// store the error so this key won't be loaded again
			authMethodCache.Store(keyPath, err)
			continue
		}
		authMethodCache.Store(keyPath, privateKeyAuth)
		methods = append(methods, privateKeyAuth)
	}

	if c.KeyPath == nil && len(signers) > 0 {
		c.Log().Debug("using all keys from ssh agent because a keypath was not explicitly given", log.KeyCount, len(signers))
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if c.Password != "" {
		password := c.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no usable authentication method found", protocol.ErrAbort)
	}

	return methods, nil
}

func (c *Connection) pubkeySigner(signers []ssh.Signer, key ssh.PublicKey) (ssh.AuthMethod, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("%w: signer not found for public key", protocol.ErrAbort)
	}

	for _, s := range signers {
		if bytes.Equal(key.Marshal(), s.PublicKey().Marshal()) {
			c.Log().Debug("signer for public key available in ssh agent")
			return ssh.PublicKeys(s), nil
		}
	}

	return nil, fmt.Errorf("%w: the provided key is a public key and is not known by agent", protocol.ErrAbort)
}

func (c *Connection) pkeySigner(signers []ssh.Signer, path string) (ssh.AuthMethod, error) {
	log.Trace(context.Background(), "checking identity file", log.KeyFile, path)
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read identity file %s: %w", protocol.ErrAbort, path, err)
	}

	pubKey, _, _, _, err := ssh.ParseAuthorizedKey(key)
	if err == nil {
		log.Trace(context.Background(), "file is a public key", log.KeyFile, path)
		return c.pubkeySigner(signers, pubKey)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err == nil {
		c.Log().Debug("using an unencrypted private key", log.KeyFile, path)
		return ssh.PublicKeys(signer), nil
	}

	var ppErr *ssh.PassphraseMissingError
	if errors.As(err, &ppErr) { //nolint:nestif
		c.Log().Debug("key is encrypted", log.KeyFile, path)

		if len(signers) > 0 {
			if signer, err := c.pkeySigner(signers, path+".pub"); err == nil {
				return signer, nil
			}
		}

		if c.PasswordCallback != nil {
			log.Trace(context.Background(), "asking for a password to decrypt key", log.HostAttr(c), log.KeyFile, path)
			pass, err := c.PasswordCallback()
			if err != nil {
				return nil, fmt.Errorf("%w: failed to get password: %w", protocol.ErrAbort, err)
			}
			signer, err := ssh.ParsePrivateKeyWithPassphrase(key, []byte(pass))
			if err != nil {
				return nil, fmt.Errorf("%w: encrypted key %s decoding failed: %w", protocol.ErrAbort, path, err)
			}
			return ssh.PublicKeys(signer), nil
		}
	}

	return nil, fmt.Errorf("%w: can't parse keyfile: %s: %w", protocol.ErrAbort, path, err)
}

func knownhostsCallback(path string, permissive, hash bool) (ssh.HostKeyCallback, error) {
	cb, err := hostkey.KnownHostsFileCallback(path, permissive, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: create host key validator: %w", protocol.ErrAbort, err)
	}
	return cb, nil
}

func (c *Connection) hostkeyCallback() (ssh.HostKeyCallback, error) {
	knownHostsMU.Lock()
	defer knownHostsMU.Unlock()

	if c.InsecureIgnoreHostKey {
		c.Log().Warn("host key verification is disabled", log.HostAttr(c))
		return hostkey.InsecureIgnoreHostKeyCallback, nil
	}

	if c.HostKey != "" {
		log.Trace(context.Background(), "using static host key", log.HostAttr(c))
		return hostkey.StaticKeyCallback(c.HostKey), nil
	}

	if path, ok := hostkey.KnownHostsPathFromEnv(); ok {
		if path == "" {
			return hostkey.InsecureIgnoreHostKeyCallback, nil
		}
		c.Log().Debug("using known_hosts file from SSH_KNOWN_HOSTS", log.HostAttr(c), log.KeyFile, path)
		return knownhostsCallback(path, c.permissive, c.hash)
	}

	khPath := c.KnownHostsFile
	if khPath == "" {
		khPath = hostkey.DefaultKnownHostsPath
	}
	expanded, err := homedir.Expand(khPath)
	if err != nil {
		return nil, fmt.Errorf("%w: known_hosts path: %w", protocol.ErrAbort, err)
	}
	log.Trace(context.Background(), "using known_hosts file", log.HostAttr(c), log.KeyFile, expanded)
	return knownhostsCallback(expanded, c.permissive, c.hash)
}

func (c *Connection) clientConfig() (*ssh.ClientConfig, error) {
	hkc, err := c.hostkeyCallback()
	if err != nil {
		return nil, err
	}
	methods, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            methods,
		HostKeyCallback: hkc,
		Timeout:         c.Timeout,
	}, nil
}
