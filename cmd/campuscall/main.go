package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"campus_call/native/internal/api"
	"campus_call/native/internal/call"
	"campus_call/native/internal/config"
	"campus_call/native/internal/control"
	"campus_call/native/internal/domain"
	"campus_call/native/internal/history"
	sigclient "campus_call/native/internal/signal"
	"campus_call/native/internal/webrtc"

	"github.com/gin-gonic/gin"
	"github.com/pion/logging"
)

const helpText = `campuscall - Native video-call client for the campus platform

Usage:
  campuscall [options]

Registers the participant with the platform, joins the signaling relay and
serves the call controls on a local HTTP endpoint. The remote participant's
H264 video is written to stdout. Pipe to ffplay for playback.

Environment Variables (required):
  CALL_API_BASE   Platform API base URL
  CALL_TOKEN      Bearer token of the signed-in user
  CALL_TENANT     School identifier
  CALL_SESSION    Academic session identifier
  CALL_ENTITY     Staff or student identifier

Environment Variables (optional):
  CALL_RELAY          websocket (default) or redis
  CALL_SIGNAL_URL     Relay websocket URL (default: from registration)
  REDIS_ADDR          Redis relay address (default localhost:6379)
  CALL_CONTROL_ADDR   Control surface address (default 127.0.0.1:8090)
  CALL_HISTORY_DB     SQLite call ledger path (disabled when empty)
  CALL_LOG_LEVEL      error, warn, info (default), debug or trace
  STUN_URLS, TURN_URLS, TURN_USERNAME, TURN_PASSWORD, ICE_MODE

Examples:
  # Live playback of the remote participant
  campuscall | ffplay -f h264 -

  # Call a participant
  curl -X POST localhost:8090/api/call/start -d '{"target":"school1_2024_bob"}'

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	lf := logging.NewDefaultLoggerFactory()
	lf.Writer = os.Stderr
	lf.DefaultLogLevel = logLevel(cfg.LogLevel)
	if lf.DefaultLogLevel < logging.LogLevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, shutting down", sig)
		cancel()
	}()

	// Step 1: Media session plumbing (H264 playback → stdout)
	factory, err := webrtc.NewFactory(webrtc.FactoryConfig{LoggerFactory: lf})
	if err != nil {
		log.Fatalf("[main] create transport factory: %v", err)
	}
	renderer := webrtc.NewRenderer(os.Stdout, lf)
	devices := webrtc.NewDeviceSource(!cfg.DisableAudio, !cfg.DisableVideo, lf)

	// Step 2: Optional call ledger
	var (
		store    *history.Store
		recorder domain.CallRecorder
		reader   control.HistoryReader
	)
	if cfg.HistoryDB != "" {
		store, err = history.Open(cfg.HistoryDB, lf)
		if err != nil {
			log.Fatalf("[main] open call history: %v", err)
		}
		recorder, reader = store, store
	}

	// Step 3: Create the call manager (implements domain.SignalHandler)
	mgr := call.New(call.Config{
		Self:            cfg.ParticipantID,
		ICEServers:      cfg.ICEServers,
		Media:           domain.MediaConstraints{Audio: true, Video: true},
		RecoveryWindow:  cfg.Recovery.Window,
		MaxICERestarts:  cfg.Recovery.MaxICERestarts,
		MaxReinits:      cfg.Recovery.MaxReinits,
		DisconnectGrace: cfg.Recovery.DisconnectGrace,
		RestartTimeout:  cfg.Recovery.RestartTimeout,
		HealthInterval:  cfg.Recovery.HealthInterval,
		StallThreshold:  cfg.Recovery.StallThreshold,
		LoggerFactory:   lf,
	}, call.Deps{
		Registrar:  api.NewClient(cfg.APIBase, cfg.Token, lf),
		Transports: factory,
		Media:      devices,
		Renderer:   renderer,
		Recorder:   recorder,
	})

	// Step 4: Register with the platform
	log.Printf("[main] registering %s", cfg.ParticipantID)
	reg, err := mgr.Register(ctx)
	if err != nil {
		log.Fatalf("[main] register: %v", err)
	}
	log.Printf("[main] registered: signal=%s ice servers=%d", reg.SignalServer, len(reg.ICEServers))

	// Step 5: Create the signaling channel with the manager as handler
	var sc domain.Signaler
	switch cfg.Relay {
	case config.RelayRedis:
		sc = sigclient.NewRedisClient(sigclient.RedisOptions{
			Addr:          cfg.RedisAddr,
			Password:      cfg.RedisPassword,
			Self:          cfg.ParticipantID,
			LoggerFactory: lf,
		}, mgr)
	default:
		url := cfg.SignalURL
		if url == "" {
			url = reg.SignalServer
		}
		if url == "" {
			log.Fatalf("[main] no relay URL: set CALL_SIGNAL_URL")
		}
		sc = sigclient.NewClient(sigclient.Options{
			URL:           url,
			Self:          cfg.ParticipantID,
			LoggerFactory: lf,
			// re-registers once the cached relay token has expired
			TokenSource: func(ctx context.Context) (string, error) {
				reg, err := mgr.Register(ctx)
				if err != nil {
					return "", err
				}
				return reg.RelayToken, nil
			},
		}, mgr)
	}

	// Step 6: Complete the circular dependency
	mgr.SetSignaler(sc)

	// Step 7: Connect signaling
	if err := sc.Connect(ctx); err != nil {
		log.Fatalf("[main] signal connect: %v", err)
	}

	// Step 8: Serve the call controls
	srv := control.NewServer(cfg.ControlAddr, mgr, reader, lf)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("[main] control surface: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Printf("[main] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] control shutdown: %v", err)
	}

	mgr.Close()
	sc.Close()
	if store != nil {
		store.Close()
	}

	log.Printf("[main] done")
}

func logLevel(s string) logging.LogLevel {
	switch strings.ToLower(s) {
	case "error":
		return logging.LogLevelError
	case "warn":
		return logging.LogLevelWarn
	case "debug":
		return logging.LogLevelDebug
	case "trace":
		return logging.LogLevelTrace
	default:
		return logging.LogLevelInfo
	}
}
