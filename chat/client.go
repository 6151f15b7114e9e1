package chat

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nexusofdoom/Streamer-Insight-App/dispatch"
	"github.com/nexusofdoom/Streamer-Insight-App/telemetry"
	"github.com/nexusofdoom/Streamer-Insight-App/twitchapi"
)

// DefaultAddr is the TLS chat endpoint.
const DefaultAddr = "irc.chat.twitch.tv:6697"

const (
	defaultReadTimeout = 30 * time.Second
	writeTimeout       = 10 * time.Second
	dialTimeout        = 10 * time.Second
	// keepAliveMisses is how many consecutive read timeouts without any
	// traffic count as connection loss.
	keepAliveMisses = 3
	// recentIDCap bounds the per-user message-id window used for later
	// moderation actions.
	recentIDCap = 20
	// sendInterval paces outbound messages (anti-spam guard).
	sendInterval = 1500 * time.Millisecond
)

var (
	// ErrNotConnected is returned by Send when no socket is open.
	ErrNotConnected = errors.New("chat: not connected")
	// ErrSendThrottled is returned by Send when the outbound pacer rejects
	// the message.
	ErrSendThrottled = errors.New("chat: send throttled")

	errAuthRejected  = errors.New("chat: authentication rejected")
	errKeepAliveLost = errors.New("chat: keep-alive lost")
)

// CredentialFunc supplies the current OAuth token. An empty string means
// "not yet configured" and the client will not attempt to connect.
type CredentialFunc func() string

// ValidateFunc checks a token against the platform before connecting and
// returns the login it belongs to. An error is terminal: the client goes to
// Failed and stops.
type ValidateFunc func(ctx context.Context, token string) (login string, err error)

// DialFunc opens the chat transport. Overridable for tests; the default
// dials TLS.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Client is the persistent IRC chat connection for one channel.
type Client struct {
	Channel     string
	Credentials CredentialFunc
	Validate    ValidateFunc
	Dispatcher  *dispatch.Dispatcher

	// Addr, Dial, ReadTimeout and Backoff have working defaults from
	// NewClient and exist as fields for tests.
	Addr        string
	Dial        DialFunc
	ReadTimeout time.Duration
	Backoff     *Backoff

	// Helix backs the auxiliary "who is here" query; optional.
	Helix         *twitchapi.HelixClient
	BroadcasterID string

	limiter *rate.Limiter

	mu     sync.Mutex
	state  dispatch.ConnectionState
	conn   net.Conn
	login  string
	recent map[string][]string

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClient returns a Client for channel. Run starts the connection loop;
// Stop shuts it down.
func NewClient(channel string, creds CredentialFunc, validate ValidateFunc, d *dispatch.Dispatcher) *Client {
	return &Client{
		Channel:     channel,
		Credentials: creds,
		Validate:    validate,
		Dispatcher:  d,
		Addr:        DefaultAddr,
		ReadTimeout: defaultReadTimeout,
		Backoff:     NewBackoff(backoffMin, backoffMax),
		limiter:     rate.NewLimiter(rate.Every(sendInterval), 1),
		recent:      make(map[string][]string),
		stopCh:      make(chan struct{}),
	}
}

// Run drives the connection state machine until Stop or ctx cancellation.
// It blocks; start it on its own goroutine.
func (c *Client) Run(ctx context.Context) {
	token := strings.TrimSpace(c.Credentials())
	if token == "" {
		c.setState(dispatch.StateDisconnected, "no credential configured")
		return
	}
	token = strings.TrimPrefix(token, "oauth:")

	login, err := c.Validate(ctx, token)
	if err != nil {
		telemetry.IncIRCAuthFailure()
		c.setState(dispatch.StateFailed, "credential rejected; re-authorization required")
		return
	}
	c.mu.Lock()
	c.login = login
	c.mu.Unlock()

	for {
		if c.stopped() || ctx.Err() != nil {
			break
		}
		c.setState(dispatch.StateConnecting, "connecting")

		conn, err := c.connect(ctx, token, login)
		if err == nil {
			c.Backoff.Reset()
			c.setState(dispatch.StateConnected, "connected as "+login)
			err = c.readLoop(conn)
			c.dropConn(conn)
			if errors.Is(err, errAuthRejected) {
				telemetry.IncIRCAuthFailure()
				c.setState(dispatch.StateFailed, "authentication failed; re-authorization required")
				return
			}
			if err != nil && !c.stopped() {
				slog.Warn("irc connection lost", slog.Any("err", err))
			}
		} else if !c.stopped() {
			slog.Warn("irc connect failed", slog.Any("err", err))
		}

		if c.stopped() || ctx.Err() != nil {
			break
		}
		delay := c.Backoff.Next()
		telemetry.IncIRCReconnect()
		c.setState(dispatch.StateReconnecting, fmt.Sprintf("reconnecting in %s", delay))
		select {
		case <-ctx.Done():
			c.teardown()
			return
		case <-c.stopCh:
			c.teardown()
			return
		case <-time.After(delay):
		}
	}
	c.teardown()
}

// Stop signals the loop to exit and closes the socket. Idempotent: safe to
// call repeatedly and when already disconnected.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Send writes one message to the channel. It fails loudly when no socket is
// open and does not retry. The local echo event is emitted because the
// server does not echo own messages back.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	conn := c.conn
	login := c.login
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	res := c.limiter.Reserve()
	if !res.OK() || res.Delay() > 0 {
		res.Cancel()
		return ErrSendThrottled
	}
	if err := writeLine(conn, "PRIVMSG #"+c.Channel+" :"+text); err != nil {
		// A failed write must not burn the pacing budget; the caller's
		// retry should see the write error, not a throttle.
		res.Cancel()
		return fmt.Errorf("chat send: %w", err)
	}
	c.emit(dispatch.ChatEvent{
		ID:        uuid.NewString(),
		Platform:  dispatch.PlatformTwitch,
		Timestamp: time.Now(),
		Author:    login,
		Body:      text,
		Self:      true,
	})
	return nil
}

// State reports the current connection state.
func (c *Client) State() dispatch.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Login reports the authenticated login, empty until validated.
func (c *Client) Login() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login
}

// RecentMessageIDs returns the last message ids seen from author (at most
// 20, oldest first), for moderation actions like message deletion.
func (c *Client) RecentMessageIDs(author string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.recent[strings.ToLower(author)]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Chatters runs the auxiliary "who is here" query via Helix. The presence
// refresh loop calls this on its own timer.
func (c *Client) Chatters(ctx context.Context) ([]twitchapi.Chatter, error) {
	if c.Helix == nil || c.BroadcasterID == "" {
		return nil, errors.New("chat: chatters query not configured")
	}
	return c.Helix.GetChatters(ctx, c.BroadcasterID, c.BroadcasterID)
}

func (c *Client) connect(ctx context.Context, token, login string) (net.Conn, error) {
	dial := c.Dial
	if dial == nil {
		dial = dialTLS
	}
	conn, err := dial(ctx, c.Addr)
	if err != nil {
		return nil, err
	}
	for _, line := range []string{
		"PASS oauth:" + token,
		"NICK " + login,
		"CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership",
		"JOIN #" + c.Channel,
	} {
		if err := writeLine(conn, line); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

// readLoop reads and handles lines until the connection drops. A read
// timeout sends a PING instead of failing; keepAliveMisses consecutive
// timeouts without any traffic count as loss.
func (c *Client) readLoop(conn net.Conn) error {
	var buf []byte
	rd := make([]byte, 4096)
	misses := 0
	for {
		if c.stopped() {
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		n, err := conn.Read(rd)
		if n > 0 {
			misses = 0
			buf = append(buf, rd[:n]...)
			for {
				i := bytes.Index(buf, []byte("\r\n"))
				if i < 0 {
					break
				}
				line := string(buf[:i])
				buf = buf[i+2:]
				if herr := c.handleLine(conn, line); herr != nil {
					return herr
				}
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				misses++
				if misses >= keepAliveMisses {
					return errKeepAliveLost
				}
				if werr := writeLine(conn, "PING :tmi.twitch.tv"); werr != nil {
					return werr
				}
				continue
			}
			if c.stopped() {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("peer closed connection: %w", err)
			}
			return err
		}
	}
}

// handleLine processes one protocol line. Control lines are absorbed here;
// only user chat lines become events.
func (c *Client) handleLine(conn net.Conn, line string) error {
	switch {
	case strings.HasPrefix(line, "PING"):
		return writeLine(conn, "PONG :tmi.twitch.tv")
	case strings.Contains(line, "NOTICE") &&
		(strings.Contains(line, "authentication failed") || strings.Contains(line, "Login unsuccessful")):
		return errAuthRejected
	case strings.Contains(line, " 001 "):
		slog.Info("irc welcome", slog.String("login", c.Login()))
		return nil
	}
	if !strings.Contains(line, "PRIVMSG #"+c.Channel+" :") {
		return nil
	}
	msg := ParseLine(line)
	if msg == nil {
		return nil
	}
	if msg.ID != "" {
		c.recordMessageID(msg.Author, msg.ID)
	}
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	telemetry.IncChatMessage(dispatch.PlatformTwitch.String())
	c.emit(dispatch.ChatEvent{
		ID:         id,
		Platform:   dispatch.PlatformTwitch,
		Timestamp:  time.Now(),
		Author:     msg.Author,
		Body:       msg.Body,
		EmoteSpans: msg.Emotes,
		Self:       strings.EqualFold(msg.Author, c.Login()),
	})
	return nil
}

func (c *Client) recordMessageID(author, id string) {
	key := strings.ToLower(author)
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := append(c.recent[key], id)
	if len(ids) > recentIDCap {
		ids = ids[len(ids)-recentIDCap:]
	}
	c.recent[key] = ids
}

func (c *Client) emit(ev dispatch.ChatEvent) {
	if c.Dispatcher != nil {
		c.Dispatcher.Chat(ev)
	}
}

func (c *Client) setState(s dispatch.ConnectionState, detail string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	slog.Info("irc state", slog.String("state", s.String()), slog.String("detail", detail))
	if c.Dispatcher != nil {
		c.Dispatcher.Status(dispatch.StatusChange{
			Platform:  dispatch.PlatformTwitch,
			State:     s,
			Detail:    detail,
			Timestamp: time.Now(),
		})
	}
}

func (c *Client) dropConn(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.login = ""
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.setState(dispatch.StateDisconnected, "disconnected")
}

func (c *Client) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func writeLine(conn net.Conn, line string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}

func dialTLS(ctx context.Context, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: dialTimeout},
		Config:    &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
	}
	return d.DialContext(ctx, "tcp", addr)
}
