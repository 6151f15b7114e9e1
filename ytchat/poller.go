package ytchat

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nexusofdoom/Streamer-Insight-App/dispatch"
	"github.com/nexusofdoom/Streamer-Insight-App/telemetry"
)

// PaletteSize is the number of author color slots used for rendering.
const PaletteSize = 5

const (
	defaultPollFloor         = 5 * time.Second
	defaultTransientRetry    = 15 * time.Second
	defaultQuotaCooldown     = 5 * time.Minute
	defaultWatchInterval     = 60 * time.Second
	defaultWatchQuotaBackoff = 6 * time.Hour
)

// ErrNoSession is returned by Send when no live chat session is active.
var ErrNoSession = errors.New("ytchat: no active live chat session")

// Message is one live chat item from the platform.
type Message struct {
	ID        string
	Author    string
	Body      string
	Published time.Time
}

// MessagePage is one poll response: items, the continuation token for the
// next poll, and the server-advertised minimum wait.
type MessagePage struct {
	Items                 []Message
	NextPageToken         string
	PollingIntervalMillis int64
}

// API is the live chat surface the poller drives. The production
// implementation wraps the YouTube Data API; tests substitute a fake.
type API interface {
	// ActiveLiveChatID returns the chat session id of the active
	// broadcast, or "" when nothing is live.
	ActiveLiveChatID(ctx context.Context) (string, error)
	// ListMessages fetches the next batch for the session.
	ListMessages(ctx context.Context, liveChatID, pageToken string) (*MessagePage, error)
	// SendMessage posts a message and returns its id.
	SendMessage(ctx context.Context, liveChatID, text string) (string, error)
}

// PollCursor is the continuation state, replaced atomically after every
// successful poll.
type PollCursor struct {
	NextPageToken string
	PollInterval  time.Duration
}

// Poller locates an active chat session, polls it, and hands results to the
// dispatcher; when no session is active it runs the stream watcher.
type Poller struct {
	API        API
	Dispatcher *dispatch.Dispatcher
	// SelfAuthor names the local echo after a successful send.
	SelfAuthor string

	// Timing knobs; NewPoller sets the production defaults, tests shrink
	// them.
	PollFloor         time.Duration
	TransientRetry    time.Duration
	QuotaCooldown     time.Duration
	WatchInterval     time.Duration
	WatchQuotaBackoff time.Duration

	mu         sync.Mutex
	state      dispatch.ConnectionState
	liveChatID string
	cursor     PollCursor

	watching atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPoller returns a Poller with production timing defaults.
func NewPoller(api API, d *dispatch.Dispatcher) *Poller {
	return &Poller{
		API:               api,
		Dispatcher:        d,
		SelfAuthor:        "me",
		PollFloor:         defaultPollFloor,
		TransientRetry:    defaultTransientRetry,
		QuotaCooldown:     defaultQuotaCooldown,
		WatchInterval:     defaultWatchInterval,
		WatchQuotaBackoff: defaultWatchQuotaBackoff,
		stopCh:            make(chan struct{}),
	}
}

type pollResult int

const (
	pollStop pollResult = iota
	pollEnded
)

// Run alternates between acquiring a live chat session and polling it, until
// Stop or ctx cancellation. It blocks; start it on its own goroutine.
func (p *Poller) Run(ctx context.Context) {
	p.setState(dispatch.StateConnecting, "looking for active livestream")
	for {
		chatID, ok := p.acquire(ctx)
		if !ok {
			p.teardown()
			return
		}
		p.begin(chatID)
		p.setState(dispatch.StateConnected, "live chat connected")
		p.notice("Live chat connected.")
		if p.poll(ctx) == pollStop {
			p.teardown()
			return
		}
		// Session ended; go back to acquiring.
	}
}

// Stop signals the loops to exit. Idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// State reports the current connection state.
func (p *Poller) State() dispatch.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Watching reports whether the stream watcher loop is active.
func (p *Poller) Watching() bool { return p.watching.Load() }

// Cursor reports the current poll cursor.
func (p *Poller) Cursor() PollCursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Send posts one message to the active session. The local echo is emitted
// only after the remote call succeeds.
func (p *Poller) Send(ctx context.Context, text string) error {
	p.mu.Lock()
	chatID := p.liveChatID
	author := p.SelfAuthor
	p.mu.Unlock()
	if chatID == "" {
		return ErrNoSession
	}
	id, err := p.API.SendMessage(ctx, chatID, text)
	if err != nil {
		return err
	}
	if id == "" {
		id = uuid.NewString()
	}
	p.emit(dispatch.ChatEvent{
		ID:         id,
		Platform:   dispatch.PlatformYouTube,
		Timestamp:  time.Now(),
		Author:     author,
		Body:       text,
		Self:       true,
		ColorIndex: ColorIndex(author),
	})
	return nil
}

// acquire finds an active live chat session: one immediate discovery, then
// the watcher loop. The second return is false when stopped.
func (p *Poller) acquire(ctx context.Context) (string, bool) {
	id, err := p.API.ActiveLiveChatID(ctx)
	if err == nil && id != "" {
		return id, true
	}
	if err != nil {
		slog.Warn("live chat discovery failed", slog.Any("err", err))
	} else {
		p.notice("No active livestream found. Watching for stream...")
	}
	p.setState(dispatch.StateDisconnected, "no active session; watching")
	return p.watch(ctx)
}

// watch re-runs discovery every WatchInterval until a session appears,
// backing off WatchQuotaBackoff on a quota error. At most one watcher is
// active at a time.
func (p *Poller) watch(ctx context.Context) (string, bool) {
	if !p.watching.CompareAndSwap(false, true) {
		return "", false
	}
	defer p.watching.Store(false)

	delay := p.WatchInterval
	for {
		if !p.sleep(ctx, delay) {
			return "", false
		}
		telemetry.IncWatcherCheck()
		id, err := p.API.ActiveLiveChatID(ctx)
		switch {
		case err == nil && id != "":
			p.notice("Stream detected — chat connected!")
			return id, true
		case err != nil && isQuotaError(err):
			slog.Warn("watcher quota exceeded; backing off", slog.Duration("backoff", p.WatchQuotaBackoff))
			p.setState(dispatch.StateDisconnected, "quota exceeded; watcher backing off")
			delay = p.WatchQuotaBackoff
		case err != nil:
			slog.Warn("watcher check failed", slog.Any("err", err))
			delay = p.WatchInterval
		default:
			delay = p.WatchInterval
		}
	}
}

// poll requests batches until the session ends or the poller stops. The
// cursor is only replaced on success, so quota and transient retries resume
// at the same position.
func (p *Poller) poll(ctx context.Context) pollResult {
	for {
		if p.done(ctx) {
			return pollStop
		}
		p.mu.Lock()
		chatID := p.liveChatID
		pageToken := p.cursor.NextPageToken
		p.mu.Unlock()

		start := time.Now()
		page, err := p.API.ListMessages(ctx, chatID, pageToken)
		if telemetry.PollDuration != nil {
			telemetry.PollDuration.Observe(time.Since(start).Seconds())
		}
		if err == nil {
			interval := time.Duration(page.PollingIntervalMillis) * time.Millisecond
			if interval < p.PollFloor {
				interval = p.PollFloor
			}
			p.mu.Lock()
			p.cursor = PollCursor{NextPageToken: page.NextPageToken, PollInterval: interval}
			p.mu.Unlock()
			for _, m := range page.Items {
				p.emitMessage(m)
			}
			telemetry.IncPollCycle()
			if !p.sleep(ctx, interval) {
				return pollStop
			}
			continue
		}

		class := ClassifyPollError(err)
		telemetry.IncPollError(class.String())
		switch class {
		case PollErrorEnded:
			slog.Info("live chat ended; returning to watcher", slog.Any("err", err))
			p.notice("Stream ended. Chat disconnected. Watching for next stream...")
			p.setState(dispatch.StateDisconnected, "session ended; watching")
			p.clearSession()
			return pollEnded
		case PollErrorQuota:
			slog.Warn("quota/rate limit hit; cooling down", slog.Duration("cooldown", p.QuotaCooldown))
			p.setState(dispatch.StateReconnecting, "rate limited; cooling down")
			if !p.sleep(ctx, p.QuotaCooldown) {
				return pollStop
			}
			p.setState(dispatch.StateConnected, "resuming after cooldown")
		default:
			slog.Warn("poll failed; retrying", slog.Any("err", err))
			if !p.sleep(ctx, p.TransientRetry) {
				return pollStop
			}
		}
	}
}

func (p *Poller) begin(chatID string) {
	p.mu.Lock()
	p.liveChatID = chatID
	p.cursor = PollCursor{}
	p.mu.Unlock()
}

func (p *Poller) clearSession() {
	p.mu.Lock()
	p.liveChatID = ""
	p.mu.Unlock()
}

func (p *Poller) emitMessage(m Message) {
	ts := m.Published
	if ts.IsZero() {
		ts = time.Now()
	}
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	telemetry.IncChatMessage(dispatch.PlatformYouTube.String())
	p.emit(dispatch.ChatEvent{
		ID:         id,
		Platform:   dispatch.PlatformYouTube,
		Timestamp:  ts,
		Author:     m.Author,
		Body:       m.Body,
		ColorIndex: ColorIndex(m.Author),
	})
}

func (p *Poller) emit(ev dispatch.ChatEvent) {
	if p.Dispatcher != nil {
		p.Dispatcher.Chat(ev)
	}
}

func (p *Poller) notice(body string) {
	if p.Dispatcher != nil {
		p.Dispatcher.Chat(dispatch.SystemNotice(dispatch.PlatformYouTube, body))
	}
}

func (p *Poller) setState(s dispatch.ConnectionState, detail string) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	slog.Info("youtube state", slog.String("state", s.String()), slog.String("detail", detail))
	if p.Dispatcher != nil {
		p.Dispatcher.Status(dispatch.StatusChange{
			Platform:  dispatch.PlatformYouTube,
			State:     s,
			Detail:    detail,
			Timestamp: time.Now(),
		})
	}
}

func (p *Poller) teardown() {
	p.clearSession()
	p.setState(dispatch.StateDisconnected, "stopped")
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

func (p *Poller) done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// ColorIndex maps an author to a stable palette slot so the same author
// always renders in the same color.
func ColorIndex(author string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(author))
	return int(h.Sum32() % PaletteSize)
}
