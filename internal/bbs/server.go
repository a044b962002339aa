// Package bbs wires together the radio device, transmit scheduler,
// reliable-send tracker, session manager, command processor, and public
// command layer into a single server-core task: one goroutine processes
// inbound events one at a time, owns the session map, and is the only
// writer to shared state.
package bbs

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smartyhall/meshbbs/internal/chunk"
	"github.com/smartyhall/meshbbs/internal/command"
	"github.com/smartyhall/meshbbs/internal/logging"
	"github.com/smartyhall/meshbbs/internal/meshtastic"
	"github.com/smartyhall/meshbbs/internal/metrics"
	"github.com/smartyhall/meshbbs/internal/providers"
	"github.com/smartyhall/meshbbs/internal/public"
	"github.com/smartyhall/meshbbs/internal/reliable"
	"github.com/smartyhall/meshbbs/internal/scheduler"
	"github.com/smartyhall/meshbbs/internal/session"
	"github.com/smartyhall/meshbbs/internal/storage"
)

// Config collects the knobs a Server needs, already resolved from the
// TOML+flags+env layering done by cmd/meshbbs.
type Config struct {
	MaxUsers int
	SessionTimeout time.Duration
	PublicCommandPrefix string
	AllowPublicLogin bool
	Channel int
	HelpBroadcastDelay time.Duration
	MaxMessageSize int
	ShowChunkMarkers bool
	Topics []string
	WelcomeMessage string

	Cooldowns map[public.Kind]time.Duration

	Scheduler scheduler.Config
	Reliable reliable.Config
}

// Server is the single server-core task's owned state.
type Server struct {
	cfg Config
	log *slog.Logger

	device *meshtastic.Device
	scheduler *scheduler.Scheduler
	tracker *reliable.Tracker
	sessions *session.Manager
	processor *command.Processor
	parser *public.Parser
	cooldowns *public.Cooldowns
	weather *providers.WeatherService

	rngMu sync.Mutex
	rngSrc *rand.Rand
	// packetDests correlates a packet id (assigned by the device writer)
	// back to the destination node, so OnAck/OnFail callbacks originating
	// from the reliable tracker can be matched to a waiting session.
	packetDestsMu sync.Mutex
	packetDests map[uint32]uint32

	mu sync.Mutex
	// lastDropped: node_id -> Device.Enqueue rejected a DirectResponse to
	// them. Messages dropped by the scheduler's overflow policy are not
	// recorded here.
	lastDropped map[string]bool
	outboundStash []meshtastic.OutgoingMessage
}

// New constructs a Server and its Device. port may be nil for
// no-op/test mode; the codec is the vendor-specific payload
// schema, opaque to everything above the device.
//
// The tracker must see every ack-requested send before any ack for it
// can race in, so Device's onBeforeSend hook (synchronous, from the
// writer task) is wired to Tracker.Register here rather than left to the
// caller.
func New(ctx context.Context, cfg Config, port meshtastic.Port, codec meshtastic.MessageCodec, users *storage.UserStore, messages *storage.MessageStore, weather *providers.WeatherService, log *slog.Logger) *Server {
	if log == nil {
		log = logging.L()
	}
	s := &Server{
		cfg: cfg,
		log: log,
		scheduler: scheduler.New(cfg.Scheduler),
		tracker: reliable.New(cfg.Reliable),
		sessions: session.NewManager(cfg.MaxUsers, cfg.SessionTimeout),
		processor: command.New(users, messages, cfg.Topics, cfg.WelcomeMessage),
		parser: public.NewParserWithPrefixes(cfg.PublicCommandPrefix),
		cooldowns: public.NewCooldowns(cfg.Cooldowns),
		weather: weather,
		rngSrc: rand.New(rand.NewSource(time.Now().UnixNano())),
		packetDests: make(map[uint32]uint32),
		lastDropped: make(map[string]bool),
	}
	onBeforeSend := func(packetID uint32, msg meshtastic.OutgoingMessage) {
		if !msg.WantAck || !msg.Destination.IsDirect() {
			return
		}
		maxAttempts := msg.MaxSendAttempts
		if maxAttempts <= 0 {
			maxAttempts = 1
		}
		s.packetDestsMu.Lock()
		s.packetDests[packetID] = *msg.Destination.NodeID
		s.packetDestsMu.Unlock()
		s.tracker.Register(packetID, *msg.Destination.NodeID, msg.Body, maxAttempts)
	}
	s.device = meshtastic.NewDevice(ctx, port, codec, onBeforeSend, log)
	return s
}

// HandleEvent dispatches one decoded inbound event from Device.Events:
// *meshtastic.TextEvent is routed through RouteTextEvent, *AckEvent and
// *FailEvent are handed to the reliable-send tracker.
func (s *Server) HandleEvent(ctx context.Context, ev any) error {
	switch e := ev.(type) {
	case *meshtastic.TextEvent:
		return s.RouteTextEvent(ctx, e)
	case *meshtastic.AckEvent:
		s.tracker.OnAck(e.PacketID)
		s.forgetPacket(e.PacketID)
		return nil
	case *meshtastic.FailEvent:
		s.tracker.OnFail(e.PacketID)
		s.forgetPacket(e.PacketID)
		return nil
	default:
		return nil
	}
}

// Events returns the device's inbound event channel, for the caller's
// read loop to feed into HandleEvent.
func (s *Server) Events() <-chan any { return s.device.Events() }

// Close stops the underlying device's reader and writer tasks.
func (s *Server) Close() { s.device.Close() }

func (s *Server) forgetPacket(packetID uint32) {
	s.packetDestsMu.Lock()
	delete(s.packetDests, packetID)
	s.packetDestsMu.Unlock()
}

// RetryDue re-enqueues sends the reliable-send tracker has decided are due
// for another attempt. Callers run this on the same
// ticker that drives Pump.
func (s *Server) RetryDue(now time.Time) {
	for _, r := range s.tracker.Tick(now) {
		s.packetDestsMu.Lock()
		nodeID, known := s.packetDests[r.PacketID]
		s.packetDestsMu.Unlock()
		if !known {
			nodeID = r.Destination
		}
		s.enqueueDM(nodeID, r.Body, meshtastic.PriorityDirectResponse)
	}
}

// RouteTextEvent processes one inbound TextEvent to completion before
// returning, preserving arrival order.
func (s *Server) RouteTextEvent(ctx context.Context, ev *meshtastic.TextEvent) error {
	if ev.IsDirect {
		return s.routeDirect(ctx, ev)
	}
	return s.routePublic(ctx, ev)
}

func (s *Server) routeDirect(ctx context.Context, ev *meshtastic.TextEvent) error {
	nodeKey := nodeKeyOf(ev.SourceNodeID)
	sess := s.sessions.GetOrCreate(nodeKey)

	content := ev.Content
	if !sess.LoggedIn && sess.State == session.StateMainMenu {
		if looksLikePasswordOnly(content) {
			if name, ok := s.sessions.TakePendingLogin(nodeKey, time.Now()); ok {
				content = "LOGIN " + name + " " + strings.TrimSpace(content)
			}
		}
		if !s.sessions.AllowLogin(nodeKey) && (looksLikeLoginAttempt(content) || looksLikePasswordOnly(ev.Content)) {
			s.enqueueDM(ev.SourceNodeID, "Server full. Try again later.", meshtastic.PriorityDirectResponse)
			return nil
		}
	}

	reply := s.processor.Process(sess, content)

	if s.lastDropped[nodeKey] {
		reply = "(a prior reply was lost) " + reply
		delete(s.lastDropped, nodeKey)
	}

	opts := chunk.Options{Ceiling: s.cfg.MaxMessageSize, ShowMarkers: s.cfg.ShowChunkMarkers, PromptSuffix: sess.Prompt()}
	for _, piece := range chunk.Split(reply, opts) {
		s.enqueueDM(ev.SourceNodeID, piece, meshtastic.PriorityDirectResponse)
	}
	metrics.SetSessionsActive(s.sessions.Len())
	return nil
}

// looksLikeLoginAttempt is a light heuristic used only to decide whether
// the max_users gate applies to this DM; the command processor itself
// owns actual auth semantics.
func looksLikeLoginAttempt(content string) bool {
	upper := strings.ToUpper(strings.TrimSpace(content))
	return strings.HasPrefix(upper, "LOGIN ") || strings.HasPrefix(upper, "REGISTER ")
}

// looksLikePasswordOnly reports whether content is a single bare token,
// the shape expected for the password-only follow-up DM after a public
// ^LOGIN <user> noted a pending username.
func looksLikePasswordOnly(content string) bool {
	fields := strings.Fields(content)
	return len(fields) == 1 && !looksLikeLoginAttempt(content)
}

func (s *Server) routePublic(ctx context.Context, ev *meshtastic.TextEvent) error {
	cmd := s.parser.Parse(ev.Content)
	nodeKey := nodeKeyOf(ev.SourceNodeID)

	switch cmd.Kind {
	case public.KindUnknown, public.KindInvalid:
		return nil
	case public.KindLogin:
		if !s.cfg.AllowPublicLogin {
			return nil
		}
		if !s.cooldowns.Allow(nodeKey, cmd.Kind, time.Now()) {
			return nil
		}
		s.sessions.NotePendingLogin(nodeKey, cmd.Arg, time.Now())
		return nil
	case public.KindHelp:
		if !s.cooldowns.Allow(nodeKey, cmd.Kind, time.Now()) {
			return nil
		}
		sess := s.sessions.GetOrCreate(nodeKey)
		onboarding := s.processor.Process(sess, "H")
		s.enqueueDM(ev.SourceNodeID, onboarding, meshtastic.PriorityDirectResponse)
		s.enqueueBroadcastDelayed(ev.Channel, "^HELP ⟶ LOGIN WEATHER 8BALL FORTUNE SLOT", s.cfg.HelpBroadcastDelay)
		return nil
	case public.KindWeather:
		if !s.cooldowns.Allow(nodeKey, cmd.Kind, time.Now()) {
			return nil
		}
		result := "Weather unavailable."
		if s.weather != nil && s.weather.IsConfigured() {
			if w, err := s.weather.GetWeather(cmd.Arg); err == nil {
				result = w
			}
		}
		s.enqueueBroadcast(ev.Channel, "^WEATHER ⟶ "+result)
		return nil
	case public.KindEightBall:
		if !s.cooldowns.Allow(nodeKey, cmd.Kind, time.Now()) {
			return nil
		}
		s.enqueueBroadcast(ev.Channel, "^8BALL ⟶ "+s.withRNG(providers.EightBall))
		return nil
	case public.KindFortune:
		if !s.cooldowns.Allow(nodeKey, cmd.Kind, time.Now()) {
			return nil
		}
		s.enqueueBroadcast(ev.Channel, "^FORTUNE ⟶ "+s.withRNG(providers.Fortune))
		return nil
	case public.KindSlot:
		if !s.cooldowns.Allow(nodeKey, cmd.Kind, time.Now()) {
			return nil
		}
		s.enqueueBroadcast(ev.Channel, "^SLOT ⟶ "+s.withRNG(providers.Slot))
		return nil
	}
	return nil
}

func (s *Server) enqueueDM(nodeID uint32, body string, prio meshtastic.Priority) {
	msg := meshtastic.OutgoingMessage{
		Destination: meshtastic.DirectTo(nodeID),
		Body: body,
		WantAck: true,
		Priority: prio,
		EnqueueTime: time.Now(),
	}
	s.admit(msg)
}

func (s *Server) enqueueBroadcast(channel *int, body string) {
	ch := s.cfg.Channel
	if channel != nil {
		ch = *channel
	}
	msg := meshtastic.OutgoingMessage{
		Destination: meshtastic.BroadcastOn(ch),
		Body: body,
		Priority: meshtastic.PriorityAmbientBroadcast,
		EnqueueTime: time.Now(),
	}
	s.admit(msg)
}

func (s *Server) enqueueBroadcastDelayed(channel *int, body string, delay time.Duration) {
	ch := s.cfg.Channel
	if channel != nil {
		ch = *channel
	}
	msg := meshtastic.OutgoingMessage{
		Destination: meshtastic.BroadcastOn(ch),
		Body: body,
		Priority: meshtastic.PriorityDirectBroadcast,
		EnqueueTime: time.Now(),
		NotBefore: time.Now().Add(delay),
	}
	s.admit(msg)
}

// admit hands msg to the transmit scheduler and, for test-mode visibility,
// stashes it so the test harness can inspect scheduling decisions
// without a live device loop.
func (s *Server) admit(msg meshtastic.OutgoingMessage) {
	s.scheduler.Enqueue(msg)
	s.mu.Lock()
	s.outboundStash = append(s.outboundStash, msg)
	s.mu.Unlock()
}

// Pump drains the scheduler into the device writer. Callers run this in
// a loop on a ticker (the writer task, ); test code may call
// it directly to force a dispatch deterministically.
func (s *Server) Pump(now time.Time) bool {
	msg, ok := s.scheduler.Next(now)
	if !ok {
		return false
	}
	if err := s.device.Enqueue(msg); err != nil {
		if msg.Destination.IsDirect() {
			s.mu.Lock()
			s.lastDropped[nodeKeyOf(*msg.Destination.NodeID)] = true
			s.mu.Unlock()
		}
		wrapped := fmt.Errorf("%w: %v", ErrDispatch, err)
		metrics.IncError(mapErrToMetric(wrapped))
		s.log.Warn("dispatch_failed", "error", wrapped)
	}
	return true
}

// PruneIdle runs the idle-session pruner.
func (s *Server) PruneIdle() int { return s.sessions.PruneIdle(time.Now()) }

// withRNG calls fn under the server's RNG lock, since math/rand.Rand is
// not safe for concurrent use and the chance-based providers
// (8BALL/FORTUNE/SLOT) can be invoked from overlapping inbound events.
func (s *Server) withRNG(fn func(*rand.Rand) string) string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return fn(s.rngSrc)
}

func nodeKeyOf(nodeID uint32) string { return strconv.FormatUint(uint64(nodeID), 10) }
