package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smartyhall/meshbbs/internal/bbs"
	"github.com/smartyhall/meshbbs/internal/meshtastic"
	"github.com/smartyhall/meshbbs/internal/metrics"
	"github.com/smartyhall/meshbbs/internal/providers"
	"github.com/smartyhall/meshbbs/internal/public"
	"github.com/smartyhall/meshbbs/internal/reliable"
	"github.com/smartyhall/meshbbs/internal/scheduler"
	"github.com/smartyhall/meshbbs/internal/storage"
)

// pumpInterval drives Server.Pump/RetryDue/PruneIdle; it bounds how long a
// scheduled send can wait past its MinSendGap, not how fast radio traffic
// is read (that's event-driven off Device.Events).
const pumpInterval = 50 * time.Millisecond

const pruneInterval = time.Minute

func main() {
	cfg, showVersion, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "meshbbs:", err)
		os.Exit(1)
	}
	if showVersion {
		fmt.Printf("meshbbs %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	l := setupLogger(cfg.logFormat, cfg.logLevel, cfg.logFile)
	setupSecurityLogger(cfg.logFormat, cfg.logLevel, cfg.securityFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port, err := initPort(cfg, l)
	if err != nil {
		l.Error("radio_init_error", "error", err)
		os.Exit(1)
	}

	users, err := storage.NewUserStore(cfg.dataDir)
	if err != nil {
		l.Error("user_store_init_error", "error", err)
		os.Exit(1)
	}
	messages, err := storage.NewMessageStore(cfg.dataDir, cfg.maxMessageSize)
	if err != nil {
		l.Error("message_store_init_error", "error", err)
		os.Exit(1)
	}
	topics, err := storage.LoadTopics(cfg.dataDir)
	if err != nil {
		l.Error("topics_load_error", "error", err)
		os.Exit(1)
	}
	if cfg.sysopPasswordHash != "" {
		sysopName := cfg.sysop
		if sysopName == "" {
			sysopName = "sysop"
		}
		if err := users.SeedSysop(sysopName, cfg.sysopPasswordHash); err != nil {
			l.Error("sysop_seed_error", "error", err)
			os.Exit(1)
		}
	}

	var weather *providers.WeatherService
	if cfg.weatherEnabled && cfg.weatherAPIKey != "" {
		weather = providers.NewWeatherService(providers.WeatherConfig{
				APIKey: cfg.weatherAPIKey,
				DefaultLocation: cfg.weatherDefaultLocation,
				LocationType: cfg.weatherLocationType,
				CountryCode: cfg.weatherCountryCode,
				CacheTTL: cfg.weatherCacheTTL,
				Enabled: cfg.weatherEnabled,
			})
	}

	srv := bbs.New(ctx, bbsConfig(cfg, topics), port, meshtastic.TextCodec{}, users, messages, weather, l)

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.schedulerStatsInterval, l, &wg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev, ok := <-srv.Events():
				if !ok {
					return
				}
				if err := srv.HandleEvent(ctx, ev); err != nil {
					l.Warn("handle_event_error", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pump := time.NewTicker(pumpInterval)
		defer pump.Stop()
		prune := time.NewTicker(pruneInterval)
		defer prune.Stop()
		for {
			select {
			case now := <-pump.C:
				for srv.Pump(now) {
				}
				srv.RetryDue(now)
			case <-prune.C:
				if n := srv.PruneIdle(); n > 0 {
					l.Info("sessions_pruned", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })

	var metricsSrv interface{ Shutdown(context.Context) error }
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv = metrics.StartHTTP(cfg.metricsAddr)
	}

	if cfg.mdnsEnable && cfg.metricsAddr != "" {
		portNum := mdnsPortFromAddr(cfg.metricsAddr)
		cleanup, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
		} else {
			l.Info("mdns_started", "service", mdnsServiceType, "port", portNum)
			defer cleanup()
		}
	}

	l.Info("meshbbs_started", "port", cfg.port, "bbs_name", cfg.bbsName, "max_users", cfg.maxUsers)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	srv.Close()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(context.Background())
	}
	wg.Wait()
}

// bbsConfig maps the flat appConfig onto bbs.Config, filling in the
// cooldown table with fixed command set.
func bbsConfig(cfg *appConfig, topics []string) bbs.Config {
	return bbs.Config{
		MaxUsers: cfg.maxUsers,
		SessionTimeout: cfg.sessionTimeout,
		PublicCommandPrefix: cfg.publicCommandPrefix,
		AllowPublicLogin: cfg.allowPublicLogin,
		Channel: cfg.channel,
		HelpBroadcastDelay: cfg.helpBroadcastDelay,
		MaxMessageSize: cfg.maxMessageSize,
		ShowChunkMarkers: cfg.showChunkMarkers,
		Topics: topics,
		WelcomeMessage: cfg.welcomeMessage,
		Cooldowns: map[public.Kind]time.Duration{
			public.KindEightBall: 10 * time.Second,
			public.KindFortune: 10 * time.Second,
			public.KindSlot: 10 * time.Second,
			public.KindWeather: time.Minute,
			public.KindLogin: 5 * time.Second,
		},
		Scheduler: scheduler.Config{
			MinSendGap: cfg.minSendGap,
			PostDMBroadcastGap: cfg.postDMBroadcastGap,
			DMToDMGap: cfg.dmToDMGap,
			AgingThreshold: cfg.schedulerAgingThreshold,
			MaxQueue: cfg.schedulerMaxQueue,
		},
		Reliable: reliable.Config{
			BaseBackoff: cfg.dmResendBackoff,
			MaxBackoff: cfg.dmResendBackoff * 4,
		},
	}
}

// mdnsPortFromAddr extracts the numeric port from a ":9100" or
// "host:9100" style listen address.
func mdnsPortFromAddr(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if n, err := strconv.Atoi(addr[i+1:]); err == nil {
			return n
		}
	}
	return 0
}
