package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	osignal "os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/replydesk/replydesk/internal/accumulator"
	"github.com/replydesk/replydesk/internal/bus"
	"github.com/replydesk/replydesk/internal/channels"
	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/delivery"
	"github.com/replydesk/replydesk/internal/draft"
	"github.com/replydesk/replydesk/internal/engine"
	"github.com/replydesk/replydesk/internal/journal"
	"github.com/replydesk/replydesk/internal/registry"
	"github.com/replydesk/replydesk/internal/review"
	"github.com/replydesk/replydesk/internal/router"
	"github.com/replydesk/replydesk/internal/scheduler"
	"github.com/replydesk/replydesk/internal/signal"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant (channels, router, review surface)",
	Run:   runServe,
}

var serveSignalNotify = osignal.Notify

func runServe(cmd *cobra.Command, args []string) {
	printHeader("🌐 ReplyDesk")
	fmt.Println("Starting ReplyDesk...")

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Owner.ReviewerID == "" || cfg.Owner.ConversationID == "" {
		fmt.Println("Owner not configured: set owner.reviewerId and owner.conversationId")
		os.Exit(1)
	}

	// 2. Journal
	if err := config.EnsureDir(filepath.Dir(cfg.Journal.Path)); err != nil {
		fmt.Printf("Journal dir error: %v\n", err)
		os.Exit(1)
	}
	jrnl, err := journal.NewService(cfg.Journal.Path)
	if err != nil {
		fmt.Printf("Failed to init journal: %v\n", err)
		os.Exit(1)
	}
	defer jrnl.Close()

	// 3. Bus and channels
	msgBus := bus.NewMessageBus()
	mux := channels.NewMux()

	telegram := channels.NewTelegramChannel(cfg.Channels.Telegram, cfg.Owner, msgBus)
	slackCh := channels.NewSlackChannel(cfg.Channels.Slack, cfg.Owner, msgBus)
	whatsapp := channels.NewWhatsAppChannel(cfg.Channels.WhatsApp, cfg.Owner, msgBus)
	kafkaCh := channels.NewKafkaChannel(cfg.Channels.Kafka, msgBus)

	active := []channels.Channel{}
	if cfg.Channels.Telegram.Enabled {
		active = append(active, telegram)
	}
	if cfg.Channels.Slack.Enabled {
		active = append(active, slackCh)
	}
	if cfg.Channels.WhatsApp.Enabled {
		active = append(active, whatsapp)
	}
	if cfg.Channels.Kafka.Enabled {
		active = append(active, kafkaCh)
	}
	if len(active) == 0 {
		fmt.Println("No channels enabled: enable at least one under channels.*")
		os.Exit(1)
	}
	for _, ch := range active {
		mux.Register(ch)
	}

	// The reviewer surface follows the owner's configured channel.
	var notifier review.Notifier
	switch cfg.Owner.Channel {
	case "slack":
		if !cfg.Channels.Slack.Enabled {
			fmt.Println("Owner channel is slack but channels.slack is disabled")
			os.Exit(1)
		}
		notifier = slackCh
	default:
		if !cfg.Channels.Telegram.Enabled {
			fmt.Println("Owner channel is telegram but channels.telegram is disabled")
			os.Exit(1)
		}
		notifier = telegram
	}

	// 4. Signal providers and router
	generator := signal.NewGenerationProvider(cfg.Providers.Generation)
	providers := []signal.Provider{}
	if cfg.Providers.Calendar.Enabled {
		providers = append(providers, signal.NewCalendarProvider(cfg.Providers.Calendar))
	}
	if cfg.Providers.Kanban.Enabled {
		providers = append(providers, signal.NewKanbanProvider(cfg.Providers.Kanban))
	}
	providers = append(providers, signal.NewKnowledgeProvider(jrnl))

	rt := router.New(cfg.Routing, generator, providers, cfg.Owner.ReviewerID)

	// 5. Delivery, review, engine
	store := draft.NewStore()
	gateway := delivery.NewGateway(mux, jrnl)
	reviewer := review.NewHandler(store, gateway, notifier, jrnl, cfg.Owner.ReviewerID)
	bridge := registry.NewBridge(registry.DefaultSubmitTimeout)

	loop := engine.NewLoop(engine.Options{
		Bus:         msgBus,
		Accumulator: accumulator.New(cfg.Accumulator.Window),
		Store:       store,
		Router:      rt,
		Gateway:     gateway,
		Reviewer:    reviewer,
		Notifier:    notifier,
		Bridge:      bridge,
		Journal:     jrnl,
		Owner:       cfg.Owner,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	serveSignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// 6. Start everything
	go msgBus.DispatchOutbound(ctx)

	for _, ch := range active {
		if err := ch.Start(ctx); err != nil {
			fmt.Printf("Channel %s failed to start: %v\n", ch.Name(), err)
			os.Exit(1)
		}
		fmt.Printf("Channel started: %s\n", ch.Name())
	}

	go func() {
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Printf("Engine loop crashed: %v\n", err)
			cancel()
		}
	}()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(cfg.Scheduler, bridge, jrnl)
		go sched.Run(ctx)
	}

	srv := startControlSurface(cfg, bridge, jrnl)

	fmt.Println("ReplyDesk running. Press Ctrl+C to stop.")
	<-sigChan

	fmt.Println("Shutting down...")
	cancel()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	for _, ch := range active {
		_ = ch.Stop()
	}
}

// startControlSurface serves the local HTTP API for status and operations.
func startControlSurface(cfg *config.Config, bridge *registry.Bridge, jrnl *journal.Service) *http.Server {
	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	srv := &http.Server{Addr: addr, Handler: buildControlMux(bridge, jrnl)}
	go func() {
		fmt.Printf("Control API listening on http://%s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Control API failed: %v\n", err)
		}
	}()
	return srv
}

// buildControlMux wires the control surface routes. Engine state is only
// touched through the bridge so handlers never race the loop.
func buildControlMux(bridge *registry.Bridge, jrnl *journal.Service) *http.ServeMux {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		pending := -1
		if v, err := bridge.Submit(r.Context(), func(ctx context.Context) (any, error) {
			handle, _ := bridge.Resolve()
			loop, ok := handle.(*engine.Loop)
			if !ok {
				return nil, registry.ErrNotReady
			}
			n := 0
			for _, d := range loop.Drafts() {
				if d.State == draft.StatePending {
					n++
				}
			}
			return n, nil
		}); err == nil {
			pending = v.(int)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"version":        version,
			"pending_drafts": pending,
		})
	})

	mux.HandleFunc("/api/v1/drafts", func(w http.ResponseWriter, r *http.Request) {
		v, err := bridge.Submit(r.Context(), func(ctx context.Context) (any, error) {
			handle, _ := bridge.Resolve()
			loop, ok := handle.(*engine.Loop)
			if !ok {
				return nil, registry.ErrNotReady
			}
			return loop.Drafts(), nil
		})
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, v)
	})

	mux.HandleFunc("/api/v1/drafts/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/drafts/")
		id = strings.TrimSuffix(id, "/events")
		events, err := jrnl.ListDraftEvents(id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, events)
	})

	mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		v, err := bridge.Submit(r.Context(), func(ctx context.Context) (any, error) {
			handle, _ := bridge.Resolve()
			loop, ok := handle.(*engine.Loop)
			if !ok {
				return nil, registry.ErrNotReady
			}
			return loop.RecentMessages(), nil
		})
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, v)
	})

	mux.HandleFunc("/api/v1/check", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		v, err := bridge.Submit(r.Context(), func(ctx context.Context) (any, error) {
			handle, _ := bridge.Resolve()
			loop, ok := handle.(*engine.Loop)
			if !ok {
				return nil, registry.ErrNotReady
			}
			return loop.CheckNow(ctx)
		})
		if err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"evaluated": v})
	})

	mux.HandleFunc("/api/v1/decisions", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if q := r.URL.Query().Get("limit"); q != "" {
			if n, err := strconv.Atoi(q); err == nil && n > 0 {
				limit = n
			}
		}
		decisions, err := jrnl.ListDecisions(limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, decisions)
	})

	return mux
}
