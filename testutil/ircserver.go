package testutil

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

// FakeIRCServer is a scriptable chat server listening on a loopback port.
// Tests accept connections and speak raw protocol lines to the client.
type FakeIRCServer struct {
	Addr  string
	ln    net.Listener
	conns chan *IRCConn
}

// IRCConn is one accepted client connection.
type IRCConn struct {
	net.Conn
	r *bufio.Reader
}

// NewFakeIRCServer starts the listener and its accept loop.
func NewFakeIRCServer(t *testing.T) *FakeIRCServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &FakeIRCServer{
		Addr:  ln.Addr().String(),
		ln:    ln,
		conns: make(chan *IRCConn, 4),
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.conns <- &IRCConn{Conn: c, r: bufio.NewReader(c)}
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

// Accept waits for the next client connection.
func (s *FakeIRCServer) Accept(t *testing.T, timeout time.Duration) *IRCConn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(timeout):
		t.Fatalf("no connection within %s", timeout)
		return nil
	}
}

// ReadLine reads one CRLF-terminated line from the client.
func (c *IRCConn) ReadLine(t *testing.T, timeout time.Duration) string {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.r.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// ExpectLine reads one line and fails unless it has the given prefix.
func (c *IRCConn) ExpectLine(t *testing.T, prefix string, timeout time.Duration) string {
	t.Helper()
	line := c.ReadLine(t, timeout)
	if !strings.HasPrefix(line, prefix) {
		t.Fatalf("expected line with prefix %q, got %q", prefix, line)
	}
	return line
}

// WriteLine sends one CRLF-terminated line to the client.
func (c *IRCConn) WriteLine(t *testing.T, line string) {
	t.Helper()
	_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.Write([]byte(line + "\r\n")); err != nil {
		t.Fatalf("write line: %v", err)
	}
}
