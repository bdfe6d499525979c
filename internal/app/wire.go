package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	s3blob "github.com/oddsfair/arbot/internal/blob/s3"
	"github.com/oddsfair/arbot/internal/book"
	"github.com/oddsfair/arbot/internal/cache/redis"
	"github.com/oddsfair/arbot/internal/config"
	"github.com/oddsfair/arbot/internal/crypto"
	"github.com/oddsfair/arbot/internal/domain"
	"github.com/oddsfair/arbot/internal/events"
	"github.com/oddsfair/arbot/internal/feed"
	"github.com/oddsfair/arbot/internal/notify"
	"github.com/oddsfair/arbot/internal/platform/kalshi"
	"github.com/oddsfair/arbot/internal/platform/polymarket"
	"github.com/oddsfair/arbot/internal/store/postgres"
)

// Dependencies bundles everything the run loops need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Hub     *events.Hub
	Books   *book.Registry
	Clients map[string]domain.ExchangeClient
	Feeds   map[string]*feed.Feed

	PriceCache    domain.PriceCache
	SignalBus     domain.SignalBus
	TradeStore    domain.TradeStore
	PositionStore domain.PositionStore

	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Hub:     events.NewHub(logger),
		Books:   book.NewRegistry(0),
		Clients: make(map[string]domain.ExchangeClient),
		Feeds:   make(map[string]*feed.Feed),
	}
	trading := strings.ToLower(cfg.Mode) == "trade"

	// --- Redis (optional: price cache + event bridge) ---
	if cfg.Redis.Enabled {
		rdb, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		deps.PriceCache = redis.NewPriceCache(rdb)
		deps.SignalBus = redis.NewSignalBus(rdb)
	}

	// --- Postgres (optional: trade + position persistence) ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.TradeStore = postgres.NewTradeStore(pg.Pool())
		deps.PositionStore = postgres.NewPositionStore(pg.Pool())
	}

	// --- Venues ---
	if cfg.Polymarket.Enabled {
		var privateKey string
		if trading {
			key, err := crypto.LoadKey(crypto.KeyConfig{
				RawPrivateKey:    cfg.Polymarket.PrivateKey,
				EncryptedKeyPath: cfg.Polymarket.EncryptedKeyPath,
				KeyPassword:      cfg.Polymarket.KeyPassword,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: polymarket key: %w", err)
			}
			privateKey = key
		}

		pm, err := polymarket.New(polymarket.Config{
			GammaURL:   cfg.Polymarket.GammaURL,
			ClobURL:    cfg.Polymarket.ClobURL,
			WSURL:      cfg.Polymarket.WSURL,
			PrivateKey: privateKey,
			ChainID:    int(cfg.Polymarket.ChainID),
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: polymarket: %w", err)
		}
		if trading {
			if err := pm.DeriveAPIKey(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: polymarket api key: %w", err)
			}
		}
		deps.Clients[polymarket.Name] = pm
	}

	if cfg.Kalshi.Enabled {
		var pem []byte
		if trading {
			data, err := os.ReadFile(cfg.Kalshi.RSAPrivateKeyPath)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: kalshi key: %w", err)
			}
			pem = data
		}

		ks, err := kalshi.New(kalshi.Config{
			BaseURL:       cfg.Kalshi.BaseURL,
			WSURL:         cfg.Kalshi.WSURL,
			APIKeyID:      cfg.Kalshi.APIKeyID,
			PrivateKeyPEM: pem,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kalshi: %w", err)
		}
		deps.Clients[kalshi.Name] = ks
	}

	// --- Feeds, one per venue over the shared registry ---
	for name, client := range deps.Clients {
		deps.Feeds[name] = feed.New(
			feed.Config{QuoteInterval: cfg.Feed.QuoteInterval.Duration},
			client, deps.Books, deps.PriceCache, deps.Hub, logger,
		)
	}

	// --- S3 archiver (optional) ---
	if cfg.S3.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.ArchiverConfig{
				Retention:     cfg.S3.Retention.Duration,
				SweepInterval: cfg.S3.SweepInterval.Duration,
			},
			s3blob.NewWriter(s3c), s3blob.NewReader(s3c), deps.TradeStore, logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		kinds := make([]events.Kind, 0, len(cfg.Notify.Events))
		for _, e := range cfg.Notify.Events {
			kinds = append(kinds, events.Kind(e))
		}
		deps.Notifier = notify.NewNotifier(senders, kinds, logger)
	}

	return deps, cleanup, nil
}
