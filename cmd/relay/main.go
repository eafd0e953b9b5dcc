package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/imutig/phmc-relay/internal/analytics"
	"github.com/imutig/phmc-relay/internal/circuitbreaker"
	"github.com/imutig/phmc-relay/internal/config"
	"github.com/imutig/phmc-relay/internal/dedup"
	"github.com/imutig/phmc-relay/internal/leaderelection"
	"github.com/imutig/phmc-relay/internal/messenger"
	"github.com/imutig/phmc-relay/internal/metrics"
	"github.com/imutig/phmc-relay/internal/provision"
	"github.com/imutig/phmc-relay/internal/queue"
	"github.com/imutig/phmc-relay/internal/reminder"
	"github.com/imutig/phmc-relay/internal/store/postgres"
	"github.com/imutig/phmc-relay/internal/transport/channel"
	"github.com/imutig/phmc-relay/internal/watcher"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`phmc-relay - record event relay and notification pipeline

Usage:
  relay <command>

Commands:
  serve      Start the watcher, delivery queue and reminder scheduler
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  PLATFORM_API_URL          Chat platform REST base URL (required)
  PLATFORM_TOKEN            Chat platform bot token (required)
  PLATFORM_GUILD_ID         Guild the channels are created in (required)
  PLATFORM_TIMEOUT          Per-request platform timeout (default: "15s")
  WEB_BASE_URL              Operator console base URL for record links

  POLL_INTERVAL             Pending record scan interval (default: "10s")
  PUSH_ENABLED              LISTEN/NOTIFY push path (default: "true")
  EVENTBUS_BUFFER_SIZE      Event bus buffer capacity (default: "100")

  REMINDER_CRON             Reminder scan schedule (default: "* * * * *")
  REMINDER_LEAD             How far ahead reminders fire (default: "5m")
  REMINDER_WINDOW           Reminder scan window width (default: "1m")

  QUEUE_BASE_DELAY          Delivery retry backoff base (default: "1s")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before open, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open state cooldown (default: "2m")

  LEADER_ELECTION_ENABLED   Enable Postgres advisory lock election (default: "false")
  LEADER_LOCK_KEY           Advisory lock key shared by all instances
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("relay: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("relay: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("relay: METRICS_ENABLED not set; metrics disabled")
	}

	// Platform client with optional circuit breaker
	client := messenger.NewHTTPClient(cfg.PlatformAPIURL, cfg.PlatformToken, cfg.PlatformGuildID).
		WithTimeout(cfg.PlatformTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		client = client.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("relay: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	// Outbound delivery queue
	q := queue.New().WithBaseDelay(cfg.QueueBaseDelay)
	if metricsSink != nil {
		q = q.WithMetrics(metricsSink)
	}

	// Create event bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	prov := provision.New(store, client, q, provision.Config{WebBaseURL: cfg.WebBaseURL})
	if metricsSink != nil {
		prov = prov.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		prov = prov.WithAnalytics(analytics.NewRedisSink(redisClient, analytics.DefaultConfig()))
		log.Printf("relay: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("relay: REDIS_ADDR not set; analytics disabled")
	}

	var listener *postgres.Listener
	if cfg.PushEnabled {
		listener = postgres.NewListener(cfg.DatabaseURL, cfg.EventBusBufferSize)
	} else {
		log.Println("relay: PUSH_ENABLED=false; running poll-only")
	}

	w := watcher.New(
		watcher.Config{PollInterval: cfg.PollInterval},
		store,
		bus,
		prov,
		dedup.NewSet(0, 0),
	)
	if listener != nil {
		w = w.WithPush(listener.Events())
	}
	if metricsSink != nil {
		w = w.WithMetrics(metricsSink)
	}

	rem, err := reminder.New(
		reminder.Config{
			CronSpec: cfg.ReminderCron,
			Lead:     cfg.ReminderLead,
			Window:   cfg.ReminderWindow,
		},
		store,
		client,
		q,
		dedup.NewSet(0, 0),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build reminder scheduler: %v\n", err)
		return exitInvalidConfig
	}
	if metricsSink != nil {
		rem = rem.WithMetrics(metricsSink)
	}

	// runDuties starts the event pipeline and blocks until ctx is cancelled.
	// Under leader election only the elected instance runs it.
	runDuties := func(ctx context.Context) {
		var wg sync.WaitGroup
		if listener != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				listener.Run(ctx)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			rem.Run(ctx)
		}()
		w.Run(ctx)
		wg.Wait()
	}

	// HTTP server: health plus optional metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(rw, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		fmt.Fprintln(rw, "ok")
	})
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("relay: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("relay: http server error: %v", err)
		}
	}()

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	var dutiesWg sync.WaitGroup

	if cfg.LeaderEnabled {
		var dutyWg sync.WaitGroup
		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			func(leaderCtx context.Context) {
				dutyWg.Add(1)
				go func() {
					defer dutyWg.Done()
					runDuties(leaderCtx)
				}()
			},
			dutyWg.Wait,
		)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}
		dutiesWg.Add(1)
		go func() {
			defer dutiesWg.Done()
			elector.Run(rootCtx)
		}()
		log.Printf("relay: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	} else {
		dutiesWg.Add(1)
		go func() {
			defer dutiesWg.Done()
			runDuties(rootCtx)
		}()
	}

	log.Printf("relay: started (poll=%s, reminder=%q, http=%s)",
		cfg.PollInterval, cfg.ReminderCron, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("relay: received signal %v, shutting down", received)

	// Phase 1: Stop the pipeline (no new events, no new reminders)
	log.Println("relay: stopping pipeline...")
	cancelRoot()
	dutiesWg.Wait()
	log.Println("relay: pipeline stopped")

	// Phase 2: Drain the delivery queue with a bounded wait. Tasks still
	// queued after the deadline are lost; the store markers keep the
	// records eligible after restart.
	log.Println("relay: draining delivery queue...")
	drainDeadline := time.Now().Add(cfg.HTTPShutdownTimeout)
	for q.Size() > 0 && time.Now().Before(drainDeadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if n := q.Size(); n > 0 {
		log.Printf("relay: %d tasks still queued at shutdown", n)
	}

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("relay: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("relay: http server shutdown error: %v", err)
	}
	log.Println("relay: http server stopped")

	log.Println("relay: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("phmc-relay version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
