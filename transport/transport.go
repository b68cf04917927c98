// Copyright 2026 The Netsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport supplies the byte-stream connections a session
// runs over: a plain TCP dialer/listener pair, and an SSH-piped
// transport for tunneling the protocol the way monotone's contrib
// tooling and many of its deployments do (`ssh host netsyncd --stdio`).
package transport

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/golang/glog"
	"golang.org/x/crypto/ssh"

	"bitbucket.org/creachadair/shell"
)

// DefaultPort is the well-known TCP port this protocol listens on,
// per spec.md §6.
const DefaultPort = 4691

// DialTCP connects to addr (host:port; no default port is applied, so
// addr must name one) and returns the raw connection a session runs
// its frame codec over.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return conn, nil
}

// ListenTCP listens on addr, for cmd/netsyncd's accept loop. addr is
// passed to net.Listen unchanged; cmd/netsyncd's -port flag supplies
// DefaultPort as its default.
func ListenTCP(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return ln, nil
}

// sshConn adapts an ssh.Session's stdin/stdout pipes plus the
// underlying ssh.Client into an io.ReadWriteCloser, so a session can
// treat it exactly like a net.Conn's byte stream.
type sshConn struct {
	io.Reader
	io.Writer
	client  *ssh.Client
	session *ssh.Session
}

func (c *sshConn) Close() error {
	sessErr := c.session.Close()
	cliErr := c.client.Close()
	if sessErr != nil {
		return sessErr
	}
	return cliErr
}

// DialSSH connects to addr over SSH using config, then runs remoteArgv
// (joined into one shell-quoted command line) on the remote side and
// returns its stdin/stdout as a single ReadWriteCloser, piping the
// framed protocol over the SSH channel exactly as monotone's
// ssh-tunneled netsync deployments do.
func DialSSH(addr string, config *ssh.ClientConfig, remoteArgv []string) (io.ReadWriteCloser, error) {
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("transport: ssh dial %s: %w", addr, err)
	}
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("transport: ssh new session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("transport: ssh stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("transport: ssh stdout pipe: %w", err)
	}

	cmdLine := shell.Join(remoteArgv)
	glog.V(2).Infof("transport: running over ssh: %s", cmdLine)
	if err := session.Start(cmdLine); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("transport: ssh start %q: %w", cmdLine, err)
	}

	return &sshConn{Reader: stdout, Writer: stdin, client: client, session: session}, nil
}
