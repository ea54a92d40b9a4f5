package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"tpv-fleet/internal/audit"
	"tpv-fleet/internal/auth"
	"tpv-fleet/internal/channel/mqtt"
	commandsapp "tpv-fleet/internal/commands/application"
	commandsevents "tpv-fleet/internal/commands/application/events"
	commandsrepo "tpv-fleet/internal/commands/infrastructure/postgres"
	"tpv-fleet/internal/commands/interfaces/devicefeed"
	commandshttp "tpv-fleet/internal/commands/interfaces/http"
	"tpv-fleet/internal/eventing"
	"tpv-fleet/internal/eventing/eventbus"
	eventingrepo "tpv-fleet/internal/eventing/infrastructure/postgres"
	"tpv-fleet/internal/notify"
	"tpv-fleet/internal/observability/metrics"
	terminalsapp "tpv-fleet/internal/terminals/application"
	terminalsrepo "tpv-fleet/internal/terminals/infrastructure/postgres"
	terminalshttp "tpv-fleet/internal/terminals/interfaces/http"
	venuesrepo "tpv-fleet/internal/venues/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	fleetCfg, err := commandsapp.LoadFleetConfig()
	if err != nil {
		logger.Fatalf("fleet config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	commandRepo := commandsrepo.NewCommandRepository(db)
	bulkRepo := commandsrepo.NewBulkRepository(db)
	historyRepo := commandsrepo.NewHistoryRepository(db)
	terminalRepo := terminalsrepo.NewTerminalRepository(db)
	venueRepo := venuesrepo.NewVenueRepository(db)
	venueChecker := auth.NewVenueChecker(venueRepo)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(
		commandsevents.CommandQueued{},
		commandsevents.CommandStatusChanged{},
		commandsevents.BulkOperationUpdated{},
	)

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, cfg.TenantID, baseBus)

	streamHub := commandshttp.NewStreamHub(logger)
	notifiers := []notify.Notifier{streamHub}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(cfg.WebhookURL, logger)
		if err != nil {
			logger.Fatalf("webhook notifier error: %v", err)
		}
		notifiers = append(notifiers, webhook)
	}
	notifier := notify.NewMultiNotifier(notifiers...)

	wire, err := mqtt.NewPublisher(cfg.MQTTBrokerURL, cfg.MQTTClientID, logger)
	if err != nil {
		logger.Fatalf("mqtt publisher error: %v", err)
	}
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
	if err := wire.Connect(connectCtx); err != nil {
		cancelConnect()
		logger.Fatalf("mqtt connect error: %v", err)
	}
	cancelConnect()
	defer wire.Close()

	queueService, err := commandsapp.NewQueueService(
		commandRepo, historyRepo, terminalRepo, venueRepo, publisher, fleetCfg,
		commandsapp.WithQueueNotifier(notifier),
		commandsapp.WithQueueChannel(wire),
		commandsapp.WithQueueLogger(logger),
	)
	if err != nil {
		logger.Fatalf("queue service error: %v", err)
	}
	aggregator := commandsapp.NewBulkAggregator(commandRepo, bulkRepo, publisher, notifier, nil, logger)
	dispatchService, err := commandsapp.NewDispatchService(
		queueService, commandRepo, bulkRepo, terminalRepo, aggregator, wire, fleetCfg,
		commandsapp.WithDispatchLogger(logger),
	)
	if err != nil {
		logger.Fatalf("dispatch service error: %v", err)
	}
	resultService, err := commandsapp.NewResultService(
		queueService, terminalRepo, aggregator,
		commandsapp.WithResultNotifier(notifier),
		commandsapp.WithResultLogger(logger),
	)
	if err != nil {
		logger.Fatalf("result service error: %v", err)
	}
	heartbeatService, err := terminalsapp.NewHeartbeatService(
		terminalRepo, dispatchService, fleetCfg.PresenceThreshold(),
		terminalsapp.WithHeartbeatNotifier(notifier),
		terminalsapp.WithHeartbeatLogger(logger),
	)
	if err != nil {
		logger.Fatalf("heartbeat service error: %v", err)
	}

	eventing.Subscribe(baseBus, eventbus.EventTypeOf[commandsevents.CommandStatusChanged](), "commands.log", func(ctx context.Context, event any) error {
		evt, ok := event.(commandsevents.CommandStatusChanged)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("command status: command=%s terminal=%s status=%s attempts=%d", evt.CommandID, evt.TerminalID, evt.Status, evt.Attempts)
		return nil
	}, processedStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := commandsapp.NewSweeper(dispatchService, fleetCfg, logger)
	go sweeper.Run(ctx)

	// Re-delivers outbox rows whose immediate dispatch failed or was
	// skipped under load.
	go func() {
		ticker := time.NewTicker(cfg.OutboxDrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := dispatcher.Dispatch(ctx, 100); err != nil {
					logger.Printf("outbox drain error: %v", err)
				}
			}
		}
	}()

	if cfg.KafkaBrokers != "" {
		consumer, err := devicefeed.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic, resultService, logger)
		if err != nil {
			logger.Fatalf("device feed error: %v", err)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Printf("device feed stopped: %v", err)
			}
		}()
	}

	commandHandler, err := commandshttp.NewHandler(dispatchService, queueService, venueChecker, auditRepo)
	if err != nil {
		logger.Fatalf("command handler error: %v", err)
	}
	terminalHandler, err := terminalshttp.NewHandler(heartbeatService, terminalRepo, venueChecker, fleetCfg.PresenceThreshold())
	if err != nil {
		logger.Fatalf("terminal handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/api/v1/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	commandHandler.Register(mux)
	terminalHandler.Register(mux)
	streamHub.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL         string
	HTTPAddr            string
	TenantID            string
	JWTSecret           string
	MQTTBrokerURL       string
	MQTTClientID        string
	KafkaBrokers        string
	KafkaGroupID        string
	KafkaTopic          string
	WebhookURL          string
	OutboxDrainInterval time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:   getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:      getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:      getenvDefault("TENANT_ID", "tenant-demo"),
		JWTSecret:     getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		MQTTBrokerURL: getenvDefault("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:  getenvDefault("MQTT_CLIENT_ID", "tpv-fleet-api"),
		KafkaBrokers:  getenvDefault("KAFKA_BROKERS", ""),
		KafkaGroupID:  getenvDefault("KAFKA_GROUP_ID", "tpv-fleet-commands"),
		KafkaTopic:    getenvDefault("KAFKA_TOPIC", "terminal-events"),
		WebhookURL:    getenvDefault("COMMAND_WEBHOOK_URL", ""),
	}
	cfg.OutboxDrainInterval = 15 * time.Second
	if raw := os.Getenv("OUTBOX_DRAIN_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil || interval <= 0 {
			log.Fatalf("invalid OUTBOX_DRAIN_INTERVAL %q", raw)
		}
		cfg.OutboxDrainInterval = interval
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack passes through so websocket upgrades work behind the logger.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
