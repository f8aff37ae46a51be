package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"crossdeck/internal/auth"
	"crossdeck/internal/cache"
	"crossdeck/internal/config"
	"crossdeck/internal/console"
	"crossdeck/internal/database"
	"crossdeck/internal/deck"
	"crossdeck/internal/director"
	"crossdeck/internal/engine"
	"crossdeck/internal/library"
	"crossdeck/internal/logging"
	"crossdeck/internal/ngrok"
	"crossdeck/internal/output"
	"crossdeck/internal/server"
	"crossdeck/internal/session"
	"crossdeck/internal/stream"
	"crossdeck/pkg/models"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML configuration file")
	hashPassword := flag.String("hash-password", "", "print a bcrypt hash of the given password and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error hashing password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		logrus.WithError(err).Fatal("Error configuring logging")
	}
	defer closer.Close()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("crossdeck stopped with an error")
		closer.Close()
		os.Exit(1)
	}
	logger.Info("crossdeck stopped")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	db, err := database.NewDatabase(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	operator, err := auth.NewOperator(&cfg.Server)
	if err != nil {
		return fmt.Errorf("initialize auth: %w", err)
	}
	if !operator.IsEnabled() {
		logger.Warn("No admin password hash configured; control endpoints are open")
	}

	// Engine, decks and director
	ectx := engine.NewContext(engine.WithSampleRate(cfg.Audio.SampleRate))
	hub := console.NewHub()
	sess := session.NewSession()
	for _, id := range models.Channels {
		d := deck.New(id, ectx, sess, deck.WithObserver(hub), deck.WithLogger(logger))
		if err := sess.AddDeck(d); err != nil {
			return err
		}
	}

	seed := cfg.Director.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	dir := director.New(director.Config{
		Interval:          cfg.Director.Interval(),
		Probability:       cfg.Director.Probability,
		Window:            cfg.Director.Window(),
		DefaultChannel:    models.ChannelID(cfg.Director.DefaultChannel),
		GuardDeferredStop: cfg.Director.GuardDeferredStop,
	}, sess, ectx,
		director.WithRand(rand.New(rand.NewSource(seed))),
		director.WithTransitionLog(db),
		director.WithObserver(hub),
		director.WithLogger(logger),
	)
	for _, d := range sess.Decks() {
		d.SetEndHandler(dir.NotifyEnd)
	}
	defer dir.Disable()

	// Acquisition
	acquireOpts := []library.Option{
		library.WithIndex(db),
		library.WithReporter(hub),
		library.WithListener(hub),
		library.WithHTTPClient(&http.Client{Timeout: cfg.Library.Timeout()}),
		library.WithMaxDownload(cfg.Library.MaxDownloadBytes()),
		library.WithLogger(logger),
	}
	if ttl := cfg.Library.CacheTTL(); ttl > 0 {
		downloads := cache.NewMemoryCache[models.Track](ttl, 5*time.Minute)
		defer downloads.Close()
		acquireOpts = append(acquireOpts, library.WithDownloadCache(downloads))
	}
	acquirer := library.NewAcquirer(sess.Catalog(), acquireOpts...)

	// Streaming
	broadcaster := stream.NewBroadcaster()
	var sink output.FrameSink
	var streamer server.Streamer
	if cfg.Stream.Enabled {
		rtc, err := stream.NewWebRTC(broadcaster, &cfg.Stream, cfg.Audio.SampleRate, engine.Channels, logger)
		if err != nil {
			logger.WithError(err).Warn("WebRTC monitoring not available")
		} else {
			defer rtc.Close()
			streamer = rtc
			sink = broadcaster
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	libraryReady := true
	if _, err := os.Stat(cfg.Library.Path); os.IsNotExist(err) {
		logger.WithField("library_path", cfg.Library.Path).Warn("Library directory does not exist; only URL acquisition is available")
		libraryReady = false
	}
	if libraryReady && cfg.Library.ScanOnStartup {
		scanner := library.NewScanner(acquirer, cfg.Library.Path, cfg.Library.SupportedFormats, cfg.Library.Workers)
		added, err := scanner.Scan(gctx)
		if err != nil {
			return fmt.Errorf("scan library: %w", err)
		}
		if added == 0 {
			logger.WithField("supported_formats", cfg.Library.SupportedFormats).Warn("No supported audio files found in library directory")
		}
	}
	if libraryReady && cfg.Library.WatchForChanges {
		watcher := library.NewWatcher(acquirer, db, cfg.Library.Path, cfg.Library.SupportedFormats)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	// Output: the device pulls the mix; without one the pump drives the clock
	usePump := cfg.Audio.Output == "null"
	if !usePump {
		dev, err := output.NewDevice(ectx, sink, cfg.Audio.Buffer())
		if err != nil {
			logger.WithError(err).Warn("Audio device not available, rendering without output")
			usePump = true
		} else {
			dev.Start()
			defer dev.Close()
			logger.WithField("sample_rate", cfg.Audio.SampleRate).Info("Audio device open")
		}
	}
	if usePump {
		pump := output.NewPump(ectx, sink, output.FrameDuration)
		g.Go(func() error { return pump.Run(gctx) })
	}

	// Tunnel
	tunnel, err := ngrok.NewService(&cfg.Tunnel, logger)
	if err != nil {
		logger.WithError(err).Warn("Ngrok service not available")
		tunnel = nil
	}

	deps := server.Deps{
		Session:  sess,
		Director: dir,
		Engine:   ectx,
		Hub:      hub,
		Store:    db,
		Acquirer: acquirer,
		Operator: operator,
		Streamer: streamer,
	}
	if tunnel != nil {
		deps.Tunnel = tunnel
	}
	srv := server.NewControlServer(cfg, deps, logger)
	g.Go(func() error { return srv.Run(gctx) })

	if tunnel != nil {
		g.Go(func() error {
			upstream := "http://localhost:" + cfg.Server.Port
			if err := tunnel.StartTunnel(gctx, upstream); err != nil {
				logger.WithError(err).Warn("Could not start ngrok tunnel")
				return nil
			}
			tunnel.Wait(gctx)
			return tunnel.Stop()
		})
	}

	if cfg.Director.EnableOnStart {
		dir.Enable()
	}

	logger.WithFields(logrus.Fields{
		"catalog":  sess.Catalog().Len(),
		"address":  cfg.GetAddress(),
		"director": cfg.Director.EnableOnStart,
	}).Info("crossdeck running")

	err = g.Wait()
	logger.Info("Shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
