// Command streamer-insight runs the multi-platform chat ingestion and
// presence-tracking engine. It:
//   - Loads configuration and initializes structured logging.
//   - Starts the Twitch IRC chat client and the YouTube live chat poller.
//   - Drives the presence tracker on a fixed refresh timer using the IRC
//     client's "who is here" query.
//   - Funnels all chat events and status changes through one ordered
//     dispatcher into the presentation sink.
//   - Exposes a minimal HTTP server with /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nexusofdoom/Streamer-Insight-App/chat"
	"github.com/nexusofdoom/Streamer-Insight-App/config"
	"github.com/nexusofdoom/Streamer-Insight-App/dispatch"
	"github.com/nexusofdoom/Streamer-Insight-App/presence"
	"github.com/nexusofdoom/Streamer-Insight-App/server"
	"github.com/nexusofdoom/Streamer-Insight-App/telemetry"
	"github.com/nexusofdoom/Streamer-Insight-App/twitchapi"
	"github.com/nexusofdoom/Streamer-Insight-App/ytchat"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("streamer-insight", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := dispatch.New(cfg.DispatchBuffer)

	// Helix clients: user-token client for calls needing the chat
	// credential, app-token client for plain lookups when configured.
	userTokens := twitchapi.TokenProviderFunc(func(context.Context) (string, error) {
		return strings.TrimPrefix(cfg.TwitchOAuthToken, "oauth:"), nil
	})
	helix := &twitchapi.HelixClient{Tokens: userTokens, ClientID: cfg.TwitchClientID}
	appHelix := helix
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		appHelix = &twitchapi.HelixClient{
			Tokens:   &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID: cfg.TwitchClientID,
		}
	}
	validator := &twitchapi.Validator{}

	tracker := presence.NewTracker(func(identity string) {
		// Audible cue lives in the presentation layer; here the sighting
		// is logged once per identity.
		slog.Info("first sighting", slog.String("identity", identity))
	})
	snap := &snapshotHolder{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.Run(gctx, &consoleSink{})
		return nil
	})

	var ircClient *chat.Client
	if err := cfg.ValidateTwitchChatReady(); err != nil {
		slog.Info("twitch chat disabled", slog.Any("reason", err))
	} else {
		ircClient = chat.NewClient(
			cfg.TwitchChannel,
			func() string { return cfg.TwitchOAuthToken },
			func(vctx context.Context, token string) (string, error) {
				v, err := validator.Validate(vctx, token)
				if err != nil {
					return "", err
				}
				return v.Login, nil
			},
			d,
		)
		ircClient.Helix = helix
		g.Go(func() error {
			ircClient.Run(gctx)
			return nil
		})
		g.Go(func() error {
			runPresenceLoop(gctx, cfg, ircClient, helix, appHelix, tracker, snap)
			return nil
		})
	}

	var poller *ytchat.Poller
	if err := cfg.ValidateYouTubeReady(); err != nil {
		slog.Info("youtube chat disabled", slog.Any("reason", err))
	} else {
		svc, err := ytchat.NewService(ctx, cfg.YTAccessToken)
		if err != nil {
			slog.Error("youtube service init failed", slog.Any("err", err))
		} else {
			poller = ytchat.NewPoller(svc, d)
			g.Go(func() error {
				poller.Run(gctx)
				return nil
			})
		}
	}

	g.Go(func() error {
		return server.Start(gctx, cfg.HTTPAddr, func() server.Status {
			st := server.Status{
				Twitch:       dispatch.StateDisconnected.String(),
				YouTube:      dispatch.StateDisconnected.String(),
				Participants: tracker.Size(),
			}
			if ircClient != nil {
				st.Twitch = ircClient.State().String()
			}
			if poller != nil {
				st.YouTube = poller.State().String()
				st.Watching = poller.Watching()
			}
			long, recent := snap.counts()
			st.LongLived = long
			st.Recent = recent
			return st
		})
	})

	if err := g.Wait(); err != nil {
		slog.Error("worker exited with error", slog.Any("err", err))
	}
	if ircClient != nil {
		ircClient.Stop()
	}
	if poller != nil {
		poller.Stop()
	}
	slog.Info("shutting down")
}

// setupLogging configures the default slog handler from LOG_LEVEL and
// LOG_FORMAT (text | json).
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}

// runPresenceLoop drives the tracker on a fixed timer: chatters from the IRC
// client's auxiliary query, live flags from a bulk streams lookup.
func runPresenceLoop(ctx context.Context, cfg *config.Config, client *chat.Client, helix, appHelix *twitchapi.HelixClient, tracker *presence.Tracker, snap *snapshotHolder) {
	ticker := time.NewTicker(cfg.PresenceRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		telemetry.TimeFunc(telemetry.PresenceRefreshDuration, func() {
			refreshPresence(ctx, cfg, client, helix, appHelix, tracker, snap)
		})
	}
}

func refreshPresence(ctx context.Context, cfg *config.Config, client *chat.Client, helix, appHelix *twitchapi.HelixClient, tracker *presence.Tracker, snap *snapshotHolder) {
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	rctx, span := telemetry.StartSpan(rctx, "presence.refresh")
	defer span.End()

	if client.BroadcasterID == "" {
		user, err := helix.GetUserByLogin(rctx, cfg.TwitchChannel)
		if err != nil {
			slog.Warn("broadcaster lookup failed", slog.Any("err", err))
			return
		}
		client.BroadcasterID = user.ID
	}

	chatters, err := client.Chatters(rctx)
	if err != nil {
		slog.Warn("chatters query failed", slog.Any("err", err))
		return
	}

	liveIDs := make(map[string]bool)
	if len(chatters) > 0 {
		ids := make([]string, 0, len(chatters))
		for _, c := range chatters {
			ids = append(ids, c.UserID)
		}
		streams, err := appHelix.GetStreams(rctx, ids...)
		if err != nil {
			slog.Debug("streams lookup failed", slog.Any("err", err))
		}
		for _, s := range streams {
			liveIDs[s.UserID] = true
		}
	}

	present := make([]presence.Presence, 0, len(chatters))
	for _, c := range chatters {
		name := c.UserName
		if name == "" {
			name = c.UserLogin
		}
		present = append(present, presence.Presence{Identity: name, Live: liveIDs[c.UserID]})
	}

	s := tracker.Refresh(time.Now(), present)
	snap.set(s)
	slog.Info("presence refreshed",
		slog.Int("present", len(present)),
		slog.Int("long_lived", len(s.LongLived)),
		slog.Int("recent", len(s.Recent)))

	// Display stats enrichment; failures only affect the log line.
	if client.BroadcasterID != "" {
		if followers, err := helix.FollowerCount(rctx, client.BroadcasterID); err == nil {
			if subs, err := helix.SubscriberCount(rctx, client.BroadcasterID); err == nil {
				slog.Debug("channel stats", slog.Int("followers", followers), slog.Int("subscribers", subs))
			}
		}
	}
}

// snapshotHolder keeps the latest presence snapshot for /status.
type snapshotHolder struct {
	mu   sync.Mutex
	last presence.Snapshot
}

func (h *snapshotHolder) set(s presence.Snapshot) {
	h.mu.Lock()
	h.last = s
	h.mu.Unlock()
}

func (h *snapshotHolder) counts() (long, recent int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.last.LongLived), len(h.last.Recent)
}

// consoleSink is the default presentation sink: it renders drained events as
// log lines. A UI would replace this with its own Sink implementation.
type consoleSink struct{}

func (consoleSink) OnChat(ev dispatch.ChatEvent) {
	slog.Info("chat",
		slog.String("platform", ev.Platform.String()),
		slog.String("author", ev.Author),
		slog.String("body", ev.Body),
		slog.Int("emotes", len(ev.EmoteSpans)),
		slog.Bool("self", ev.Self))
}

func (consoleSink) OnStatus(sc dispatch.StatusChange) {
	slog.Info("status",
		slog.String("platform", sc.Platform.String()),
		slog.String("state", sc.State.String()),
		slog.String("detail", sc.Detail))
}
