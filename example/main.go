package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	racefeed "github.com/st-keller/racefeed-client"
	"github.com/st-keller/racefeed-client/config"
	"github.com/st-keller/racefeed-client/diagnostics"
	"github.com/st-keller/racefeed-client/logger"
	"github.com/st-keller/racefeed-client/message"
	"github.com/st-keller/racefeed-client/snapshot"
	"github.com/st-keller/racefeed-client/state"
	"github.com/st-keller/racefeed-client/store"
	"github.com/st-keller/racefeed-client/transport"
	"github.com/st-keller/racefeed-client/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Feed.SessionID == "" {
		cfg.Feed.SessionID = "12345"
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	connectivity := diagnostics.NewConnectivityTracker()
	latest := store.New(store.DefaultMaxHistory)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Seed from REST so there is something to show before the first frame.
	if cfg.Snapshot.Enabled {
		seed(ctx, cfg, log, connectivity, latest)
	}

	channel, err := racefeed.New(cfg.Channel(),
		racefeed.WithLogger(log),
		racefeed.WithConnectivity(connectivity),
	)
	if err != nil {
		log.Fatal("Failed to create channel", "error", err)
	}

	unsubscribe := channel.Subscribe(logging(log, latest.Subscriber()))
	defer unsubscribe()

	log.Info("Connecting", "endpoint", channel.Endpoint(), "channel_id", channel.ID())
	channel.Connect()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				report(log, channel, latest)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		channel.Disconnect()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Example stopped with error", "error", err)
	}

	diag, _ := json.Marshal(channel.Diagnostics())
	log.Debug("Final diagnostics", "diagnostics", string(diag))
}

func seed(ctx context.Context, cfg *config.Config, log *logger.Logger, connectivity *diagnostics.ConnectivityTracker, latest *store.Store) {
	httpClient, err := transport.BuildHTTPClient(cfg.TLSFiles(), cfg.SnapshotTimeout())
	if err != nil {
		log.Warn("Snapshot disabled", "error", err)
		return
	}
	client, err := snapshot.New(cfg.Snapshot.APIURL, httpClient, connectivity)
	if err != nil {
		log.Warn("Snapshot disabled", "error", err)
		return
	}

	resp, err := client.Live(ctx, cfg.Feed.SessionID, cfg.Feed.DriverID)
	var statusErr *snapshot.StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.StatusCode == 404:
		log.Info("No live telemetry yet", "session", cfg.Feed.SessionID)
	case err != nil:
		log.Warn("Snapshot failed", "error", err)
	default:
		if _, err := latest.Apply(resp); err != nil {
			log.Warn("Snapshot rejected", "error", err)
			return
		}
		log.Info("Seeded from snapshot", "samples", len(resp.Data))
	}
}

// logging wraps sub so every callback is also logged.
func logging(log *logger.Logger, sub types.Subscriber) types.Subscriber {
	return types.Subscriber{
		OnMessage: func(msg message.Inbound) {
			log.Debug("Frame", "type", msg.Type, "bytes", len(msg.Raw))
			if msg.Type == message.TypeInfo || msg.Type == message.TypeError {
				log.Info("Feed says", "type", msg.Type, "message", msg.Message)
			}
			sub.OnMessage(msg)
		},
		OnError: func(err error) {
			log.Warn("Channel error", "error", err)
			sub.OnError(err)
		},
		OnStateChange: func(change state.Change) {
			log.Info("Connection state", "change", change.String())
			if change.To == state.Failed {
				log.Error("Feed unreachable; restart to try again")
			}
			sub.OnStateChange(change)
		},
	}
}

func report(log *logger.Logger, channel *racefeed.Channel, latest *store.Store) {
	stats := latest.Stats()
	fields := []interface{}{
		"state", channel.State().String(),
		"applied", stats.Applied,
		"duplicates", stats.Duplicates,
	}
	for _, driver := range latest.Drivers() {
		history := latest.History(driver)
		if len(history) == 0 {
			continue
		}
		last := history[len(history)-1]
		if last.Speed != nil {
			fields = append(fields, "speed_"+driver, *last.Speed)
		}
	}
	if b, ok := latest.LastBroadcast(); ok {
		fields = append(fields, "last_broadcast", b.Message)
	}
	log.Info("Telemetry", fields...)
}
