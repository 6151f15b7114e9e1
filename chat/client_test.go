package chat

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nexusofdoom/Streamer-Insight-App/dispatch"
	"github.com/nexusofdoom/Streamer-Insight-App/testutil"
)

type collectSink struct {
	chats    chan dispatch.ChatEvent
	statuses chan dispatch.StatusChange
}

func newCollectSink() *collectSink {
	return &collectSink{
		chats:    make(chan dispatch.ChatEvent, 64),
		statuses: make(chan dispatch.StatusChange, 64),
	}
}

func (s *collectSink) OnChat(ev dispatch.ChatEvent)      { s.chats <- ev }
func (s *collectSink) OnStatus(sc dispatch.StatusChange) { s.statuses <- sc }

func (s *collectSink) nextChat(t *testing.T) dispatch.ChatEvent {
	t.Helper()
	select {
	case ev := <-s.chats:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no chat event")
		return dispatch.ChatEvent{}
	}
}

func (s *collectSink) waitState(t *testing.T, want dispatch.ConnectionState) dispatch.StatusChange {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case sc := <-s.statuses:
			if sc.State == want {
				return sc
			}
		case <-deadline:
			t.Fatalf("never reached state %s", want)
			return dispatch.StatusChange{}
		}
	}
}

// newTestClient wires a client to the fake server over plain TCP with timings
// shrunk for tests.
func newTestClient(t *testing.T, srv *testutil.FakeIRCServer, d *dispatch.Dispatcher) *Client {
	t.Helper()
	c := NewClient(
		"somechannel",
		func() string { return "oauth:sometoken" },
		func(ctx context.Context, token string) (string, error) { return "somebot", nil },
		d,
	)
	c.Addr = srv.Addr
	c.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
		var nd net.Dialer
		return nd.DialContext(ctx, "tcp", addr)
	}
	c.ReadTimeout = 100 * time.Millisecond
	c.Backoff = NewBackoff(10*time.Millisecond, 40*time.Millisecond)
	return c
}

func handshake(t *testing.T, srv *testutil.FakeIRCServer) *testutil.IRCConn {
	t.Helper()
	conn := srv.Accept(t, 3*time.Second)
	conn.ExpectLine(t, "PASS oauth:sometoken", time.Second)
	conn.ExpectLine(t, "NICK somebot", time.Second)
	conn.ExpectLine(t, "CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership", time.Second)
	conn.ExpectLine(t, "JOIN #somechannel", time.Second)
	conn.WriteLine(t, ":tmi.twitch.tv 001 somebot :Welcome, GLHF!")
	return conn
}

func TestClient_HandshakeAndMessages(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	d := dispatch.New(64)
	sink := newCollectSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sink)

	c := newTestClient(t, srv, d)
	go c.Run(ctx)
	defer c.Stop()

	conn := handshake(t, srv)
	sink.waitState(t, dispatch.StateConnected)

	conn.WriteLine(t, `@display-name=Alice;emotes=25:6-10;id=m1 :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :Hello Kappa world`)
	conn.WriteLine(t, ":bob!bob@bob.tmi.twitch.tv PRIVMSG #somechannel :second")

	ev := sink.nextChat(t)
	if ev.Author != "Alice" || ev.Body != "Hello Kappa world" || ev.ID != "m1" {
		t.Errorf("first event: %+v", ev)
	}
	if len(ev.EmoteSpans) != 1 || ev.EmoteSpans[0].Text != "Kappa" {
		t.Errorf("emote spans: %v", ev.EmoteSpans)
	}
	if ev.Self {
		t.Error("message from alice flagged as self")
	}

	ev = sink.nextChat(t)
	if ev.Author != "bob" || ev.Body != "second" {
		t.Errorf("second event: %+v", ev)
	}
	if ev.ID == "" {
		t.Error("untagged message should get a generated id")
	}

	if got := c.RecentMessageIDs("ALICE"); len(got) != 1 || got[0] != "m1" {
		t.Errorf("recent ids: %v", got)
	}
}

func TestClient_SelfFlagMatchesLogin(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	d := dispatch.New(64)
	sink := newCollectSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sink)

	c := newTestClient(t, srv, d)
	go c.Run(ctx)
	defer c.Stop()

	conn := handshake(t, srv)
	sink.waitState(t, dispatch.StateConnected)

	conn.WriteLine(t, ":somebot!somebot@somebot.tmi.twitch.tv PRIVMSG #somechannel :my own line")
	if ev := sink.nextChat(t); !ev.Self {
		t.Errorf("expected Self=true: %+v", ev)
	}
}

func TestClient_PingPong(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	d := dispatch.New(64)
	sink := newCollectSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sink)

	c := newTestClient(t, srv, d)
	go c.Run(ctx)
	defer c.Stop()

	conn := handshake(t, srv)
	sink.waitState(t, dispatch.StateConnected)

	conn.WriteLine(t, "PING :tmi.twitch.tv")
	conn.ExpectLine(t, "PONG", time.Second)
}

func TestClient_KeepAliveProbeOnSilence(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	d := dispatch.New(64)
	sink := newCollectSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sink)

	c := newTestClient(t, srv, d)
	go c.Run(ctx)
	defer c.Stop()

	conn := handshake(t, srv)
	sink.waitState(t, dispatch.StateConnected)

	// No traffic for a full read timeout: the client probes with a PING
	// instead of dropping the connection.
	conn.ExpectLine(t, "PING :tmi.twitch.tv", time.Second)
}

func TestClient_KeepAliveLostAfterThreeSilentTimeouts(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	d := dispatch.New(64)
	sink := newCollectSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sink)

	c := newTestClient(t, srv, d)
	go c.Run(ctx)
	defer c.Stop()

	conn := handshake(t, srv)
	sink.waitState(t, dispatch.StateConnected)

	// The server never answers: two probes go out, the third consecutive
	// timeout counts as connection loss and triggers a reconnect.
	conn.ExpectLine(t, "PING :tmi.twitch.tv", time.Second)
	conn.ExpectLine(t, "PING :tmi.twitch.tv", time.Second)
	sink.waitState(t, dispatch.StateReconnecting)
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	d := dispatch.New(64)
	sink := newCollectSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sink)

	c := newTestClient(t, srv, d)
	go c.Run(ctx)
	defer c.Stop()

	conn := handshake(t, srv)
	sink.waitState(t, dispatch.StateConnected)

	_ = conn.Close()
	sink.waitState(t, dispatch.StateReconnecting)

	handshake(t, srv)
	sink.waitState(t, dispatch.StateConnected)

	// Each successful connect resets the delay sequence.
	if got := c.Backoff.Current(); got != 10*time.Millisecond {
		t.Errorf("backoff after reconnect: got %s, want 10ms", got)
	}
}

func TestClient_AuthRejectionIsTerminal(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	d := dispatch.New(64)
	sink := newCollectSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sink)

	c := newTestClient(t, srv, d)
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	defer c.Stop()

	conn := srv.Accept(t, 3*time.Second)
	conn.ExpectLine(t, "PASS", time.Second)
	conn.ExpectLine(t, "NICK", time.Second)
	conn.ExpectLine(t, "CAP REQ", time.Second)
	conn.ExpectLine(t, "JOIN", time.Second)
	conn.WriteLine(t, ":tmi.twitch.tv NOTICE * :Login authentication failed")

	sink.waitState(t, dispatch.StateFailed)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("run loop kept going after auth rejection")
	}
	if got := c.State(); got != dispatch.StateFailed {
		t.Errorf("state: got %s, want failed", got)
	}
}

func TestClient_ValidationFailureIsTerminal(t *testing.T) {
	d := dispatch.New(64)
	c := NewClient(
		"somechannel",
		func() string { return "oauth:badtoken" },
		func(ctx context.Context, token string) (string, error) {
			return "", errors.New("token rejected")
		},
		d,
	)
	c.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
		t.Fatal("dial should not be attempted with a rejected token")
		return nil, nil
	}

	c.Run(context.Background())
	if got := c.State(); got != dispatch.StateFailed {
		t.Errorf("state: got %s, want failed", got)
	}
}

func TestClient_EmptyCredentialNoDial(t *testing.T) {
	d := dispatch.New(64)
	c := NewClient(
		"somechannel",
		func() string { return "" },
		func(ctx context.Context, token string) (string, error) { return "somebot", nil },
		d,
	)
	c.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
		t.Fatal("dial should not be attempted without a credential")
		return nil, nil
	}

	c.Run(context.Background())
	if got := c.State(); got != dispatch.StateDisconnected {
		t.Errorf("state: got %s, want disconnected", got)
	}
}

func TestClient_SendRequiresConnection(t *testing.T) {
	c := NewClient("somechannel", func() string { return "" }, nil, nil)
	if err := c.Send("hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("got %v, want ErrNotConnected", err)
	}
}

func TestClient_SendEchoesLocally(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	d := dispatch.New(64)
	sink := newCollectSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sink)

	c := newTestClient(t, srv, d)
	go c.Run(ctx)
	defer c.Stop()

	conn := handshake(t, srv)
	sink.waitState(t, dispatch.StateConnected)

	if err := c.Send("hello out there"); err != nil {
		t.Fatalf("send: %v", err)
	}
	conn.ExpectLine(t, "PRIVMSG #somechannel :hello out there", time.Second)

	ev := sink.nextChat(t)
	if !ev.Self || ev.Body != "hello out there" || ev.Author != "somebot" {
		t.Errorf("echo event: %+v", ev)
	}
}

// stubConn is an in-memory net.Conn for exercising Send without a socket.
type stubConn struct {
	failWrites bool
}

func (s *stubConn) Read(b []byte) (int, error) { return 0, io.EOF }
func (s *stubConn) Write(b []byte) (int, error) {
	if s.failWrites {
		return 0, errors.New("broken pipe")
	}
	return len(b), nil
}
func (s *stubConn) Close() error                       { return nil }
func (s *stubConn) LocalAddr() net.Addr                { return nil }
func (s *stubConn) RemoteAddr() net.Addr               { return nil }
func (s *stubConn) SetDeadline(t time.Time) error      { return nil }
func (s *stubConn) SetReadDeadline(t time.Time) error  { return nil }
func (s *stubConn) SetWriteDeadline(t time.Time) error { return nil }

func TestClient_FailedSendKeepsPacingBudget(t *testing.T) {
	c := NewClient("somechannel", func() string { return "" }, nil, nil)
	c.conn = &stubConn{failWrites: true}

	err := c.Send("first")
	if err == nil {
		t.Fatal("expected write error")
	}
	if errors.Is(err, ErrSendThrottled) {
		t.Fatalf("write failure surfaced as throttle: %v", err)
	}

	// The failed write returned its pacing token, so an immediate retry
	// on a healthy connection goes through.
	c.conn = &stubConn{}
	if err := c.Send("second"); err != nil {
		t.Fatalf("retry after failed write: %v", err)
	}
}

func TestClient_SendThrottled(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	d := dispatch.New(64)
	sink := newCollectSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sink)

	c := newTestClient(t, srv, d)
	go c.Run(ctx)
	defer c.Stop()

	handshake(t, srv)
	sink.waitState(t, dispatch.StateConnected)

	if err := c.Send("first"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send("second"); !errors.Is(err, ErrSendThrottled) {
		t.Errorf("got %v, want ErrSendThrottled", err)
	}
}

func TestClient_StopIsIdempotent(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	d := dispatch.New(64)
	sink := newCollectSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sink)

	c := newTestClient(t, srv, d)
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	handshake(t, srv)
	sink.waitState(t, dispatch.StateConnected)

	c.Stop()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("run loop did not exit after stop")
	}
	c.Stop()
	c.Stop()
	if got := c.State(); got != dispatch.StateDisconnected {
		t.Errorf("state after stop: got %s, want disconnected", got)
	}
}

func TestClient_RecentIDsCapped(t *testing.T) {
	c := NewClient("somechannel", func() string { return "" }, nil, nil)
	for i := 0; i < 30; i++ {
		c.recordMessageID("Alice", string(rune('a'+i)))
	}
	got := c.RecentMessageIDs("alice")
	if len(got) != recentIDCap {
		t.Fatalf("got %d ids, want %d", len(got), recentIDCap)
	}
	if got[0] != string(rune('a'+10)) || got[len(got)-1] != string(rune('a'+29)) {
		t.Errorf("window contents wrong: first=%q last=%q", got[0], got[len(got)-1])
	}
}
