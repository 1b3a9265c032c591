package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/acme/outdial/internal/agent"
	"github.com/acme/outdial/internal/bridge"
	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/campaign"
	"github.com/acme/outdial/internal/config"
	"github.com/acme/outdial/internal/dialer"
	"github.com/acme/outdial/internal/httpapi"
	"github.com/acme/outdial/internal/notify"
	"github.com/acme/outdial/internal/observability"
	"github.com/acme/outdial/internal/store"
	"github.com/acme/outdial/internal/telephony"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	setupLogging(cfg)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("store init failed: %v", err)
	}
	defer st.Close()

	var phones telephony.Gateway
	if strings.TrimSpace(cfg.ProviderAccountID) == "" || strings.TrimSpace(cfg.ProviderAuthToken) == "" {
		logrus.Warn("telephony provider: mock (no account credentials configured)")
		phones = telephony.NewMockGateway()
	} else {
		g := telephony.NewHTTPGateway(cfg.ProviderBaseURL, cfg.ProviderAccountID, cfg.ProviderAuthToken)
		g.SetMetrics(metrics)
		phones = g
		logrus.WithField("base_url", cfg.ProviderBaseURL).Info("telephony provider: http")
	}

	var agents agent.Gateway
	if strings.TrimSpace(cfg.AgentGatewayAPIKey) == "" {
		logrus.Warn("agent gateway: mock (no api key configured)")
		agents = agent.NewMockGateway()
	} else {
		g := agent.NewHTTPGateway(cfg.AgentGatewayURL, cfg.AgentGatewayAPIKey)
		g.SetMetrics(metrics)
		agents = g
		logrus.WithField("base_url", cfg.AgentGatewayURL).Info("agent gateway: http")
	}

	calls := call.NewRegistry()
	terminator := call.NewTerminator(calls, phones, st, cfg.TerminateRetryBase, cfg.TerminateRetryCap)
	bridges := bridge.NewTable()
	terminator.SetBridges(bridges)
	terminator.SetMetrics(metrics)

	dialSvc := dialer.New(agents, phones, calls, bridges, terminator, metrics, dialer.Options{
		CallbackBaseURL:   cfg.CallbackBaseURL,
		CallerID:          cfg.CallerID,
		AgentID:           cfg.AgentID,
		InactivityTimeout: cfg.CallInactivityTimeout,
		Record:            cfg.RecordCalls,
	})

	campaigns := campaign.NewManager(dialSvc, terminator, st, metrics, campaign.Defaults{
		ConcurrencyLimit: cfg.DefaultConcurrencyLimit,
		PacingInterval:   cfg.DefaultPacingInterval,
		MaxAttempts:      cfg.MaxDialAttempts,
	})
	terminator.SetOutcomeSink(campaigns)

	hub := notify.NewHub()
	defer hub.Close()
	terminator.SetNotifier(hub)
	campaigns.SetNotifier(hub)

	restoreCampaigns(ctx, st, campaigns)

	api := httpapi.New(cfg, calls, terminator, bridges, campaigns, st, hub, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go inactivityJanitor(runCtx, terminator, cfg.CallInactivityTimeout)

	go func() {
		logrus.WithField("addr", cfg.BindAddr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logrus.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("graceful shutdown failed")
		_ = httpServer.Close()
	}

	logrus.Info("shutdown complete")
}

func setupLogging(cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		logrus.SetOutput(io.MultiWriter(os.Stdout, rotated))
	}
}

// restoreCampaigns re-registers campaigns saved before a restart. Campaigns
// that were mid-flight come back paused so an operator decides when dialing
// resumes; never-started ones stay idle.
func restoreCampaigns(ctx context.Context, st store.Store, campaigns *campaign.Manager) {
	saved, err := st.LoadCampaigns(ctx)
	if err != nil {
		logrus.WithError(err).Warn("failed to load saved campaigns")
		return
	}
	for _, c := range saved {
		contacts, err := st.LoadContacts(ctx, c.ID)
		if err != nil {
			logrus.WithError(err).WithField("campaign_id", c.ID).Warn("failed to load campaign contacts")
			continue
		}
		if len(contacts) == 0 {
			continue
		}
		campaigns.Restore(c, contacts)
		logrus.WithFields(logrus.Fields{
			"campaign_id": c.ID,
			"status":      c.Status,
		}).Info("campaign restored")
	}
}

// inactivityJanitor is the backstop for calls whose media stream never
// connected; bridged calls are watched by their own bridge watchdog.
func inactivityJanitor(ctx context.Context, terminator *call.Terminator, timeout time.Duration) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := terminator.ExpireInactive(ctx, timeout); n > 0 {
				logrus.WithField("count", n).Info("expired inactive calls")
			}
		}
	}
}
