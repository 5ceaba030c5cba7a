// Package tunnel dials database servers through an ssh bastion host. Tunnel implements db.Dialer,
// all connections of a tunnel share a single ssh client connected on the first dial.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Tunnel forwards connections through the ssh host.
type Tunnel struct {
	host       string
	user       string
	privateKey string
	timeout    time.Duration

	mu     sync.Mutex
	client *ssh.Client
}

// New makes a tunnel to host[:port] for user authenticated with the private key file. Nothing is connected yet.
func New(host, user, privateKey string, timeout time.Duration) (*Tunnel, error) {
	if _, err := os.Stat(privateKey); os.IsNotExist(err) {
		return nil, fmt.Errorf("private key file %q does not exist", privateKey)
	}
	if !strings.Contains(host, ":") {
		host += ":22"
	}
	return &Tunnel{host: host, user: user, privateKey: privateKey, timeout: timeout}, nil
}

// DialContext opens a forwarded connection to addr as seen from the ssh host. A dial failing for anything
// but the host rejecting the forward drops the ssh client, the next one reconnects.
func (t *Tunnel) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, err := t.sshClient(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := client.DialContext(ctx, network, addr)
	if err != nil {
		var rejected *ssh.OpenChannelError
		if !errors.As(err, &rejected) && ctx.Err() == nil {
			t.drop(client)
		}
		return nil, fmt.Errorf("failed to dial %s through %s: %w", addr, t.host, err)
	}
	log.Printf("[DEBUG] tunnel to %s through %s opened", addr, t.host)
	return conn, nil
}

// Close disconnects the ssh client, open forwarded connections are closed with it.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *Tunnel) String() string { return t.user + "@" + t.host }

// sshClient returns the connected client, connecting it on the first call
func (t *Tunnel) sshClient(ctx context.Context) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	log.Printf("[DEBUG] create ssh session to %s, user %s", t.host, t.user)
	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.host)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	conf, err := t.sshConfig()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create ssh config: %w", err)
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, t.host, conf)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create client connection to %s: %w", t.host, err)
	}
	t.client = ssh.NewClient(ncc, chans, reqs)
	log.Printf("[DEBUG] ssh session created to %s", t.host)
	return t.client, nil
}

func (t *Tunnel) drop(client *ssh.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != client {
		return
	}
	if err := t.client.Close(); err != nil {
		log.Printf("[DEBUG] close ssh client to %s: %v", t.host, err)
	}
	t.client = nil
}

func (t *Tunnel) sshConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(t.privateKey)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return &ssh.ClientConfig{
		User:            t.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // bastion hosts are not pinned
		Timeout:         t.timeout,
	}, nil
}
