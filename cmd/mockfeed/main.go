package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/st-keller/racefeed-client/config"
	"github.com/st-keller/racefeed-client/logger"
	"github.com/st-keller/racefeed-client/message"
	"github.com/st-keller/racefeed-client/mockfeed"
)

const defaultSession = "12345"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	session := cfg.Feed.SessionID
	if session == "" {
		session = defaultSession
	}

	feed := mockfeed.New(mockfeed.Options{TickInterval: cfg.MockTick(), Logger: log})
	server := &http.Server{
		Addr:              cfg.MockFeed.Addr,
		Handler:           feed,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Mock feed listening", "addr", cfg.MockFeed.Addr, "session", session, "drivers", cfg.MockFeed.SeedDrivers)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		simulate(gctx, feed, session, cfg.MockFeed.SeedDrivers)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down mock feed")
		feed.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("Mock feed failed", "error", err)
	}
	log.Info("Mock feed stopped")
}

// simulate drives each seeded car round a circle, one sample every 100ms,
// keeping the last ten samples as the live window.
func simulate(ctx context.Context, feed *mockfeed.Server, session string, drivers []string) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	windows := make(map[string][]message.TelemetryDataPoint, len(drivers))
	lap := 1
	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if step > 0 && step%900 == 0 {
			lap++
		}
		now := time.Now().UTC().Format("2006-01-02T15:04:05.000000")

		for i, driver := range drivers {
			angle := float64(step+i*40) / 900 * 2 * math.Pi
			speed := 250 + 60*math.Sin(angle*3)
			throttle := math.Max(0, math.Min(100, 70+40*math.Sin(angle*3)))
			gear := 3 + int(speed/60)
			x, y := 500*math.Cos(angle), 300*math.Sin(angle)
			sector := 1 + int(math.Mod(angle, 2*math.Pi)/(2*math.Pi/3))
			currentLap := lap

			point := message.TelemetryDataPoint{
				Timestamp: now,
				Speed:     &speed,
				Throttle:  &throttle,
				Gear:      &gear,
				PositionX: &x,
				PositionY: &y,
				Sector:    &sector,
				Lap:       &currentLap,
			}
			window := append(windows[driver], point)
			if len(window) > 10 {
				window = window[len(window)-10:]
			}
			windows[driver] = window

			feed.SetTelemetry(message.TelemetryResponse{
				SessionID:  session,
				DriverID:   driver,
				Data:       append([]message.TelemetryDataPoint(nil), window...),
				CurrentLap: &currentLap,
				LastUpdate: now,
			})
		}
	}
}
