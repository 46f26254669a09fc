package app

import (
	"context"
	"fmt"
	"time"

	"killswitch/internal/account"
	"killswitch/internal/broker"
	"killswitch/internal/broker/kotak"
	"killswitch/internal/config"
	"killswitch/internal/configstore"
	"killswitch/internal/killaction"
	"killswitch/internal/notifier"
	"killswitch/internal/service/kill"
	"killswitch/internal/service/supervisor"
	"killswitch/internal/store/eventlog"
	"killswitch/internal/store/mtmlog"
	"killswitch/internal/transport/http/admin"
	"killswitch/internal/verify"
)

// AppBuilder assembles the application from config. Kept separate from
// App so wire can provide it.
type AppBuilder struct {
	cfg *config.Config
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg

	store, err := configstore.NewStore(cfg.AccountsFile)
	if err != nil {
		return nil, fmt.Errorf("open account store: %w", err)
	}
	creds, err := config.LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	events, err := eventlog.NewStore(cfg.EventDB)
	if err != nil {
		return nil, err
	}
	samples, err := mtmlog.NewStore(cfg.MTMDB)
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(supervisor.Collaborators{
		Store:       store,
		Credentials: creds,

		NewClient: func(id string, c account.Credentials) broker.Client {
			return kotak.NewClient(kotak.Credentials{
				ConsumerKey:  c.Broker["consumer_key"],
				UCC:          c.Broker["ucc"],
				MobileNumber: c.Broker["mobile_number"],
				MPIN:         c.Broker["mpin"],
				TOTPSecret:   c.Broker["totp_secret"],
			})
		},
		NewKiller: func(id string, auto account.AutomationConfig, c account.Credentials, otp killaction.OTPProvider) killaction.Killer {
			return killaction.NewBrowser(id, auto, c.Broker, otp, "logs")
		},
		NewVerifier: func(id string, c account.Credentials) (kill.Verifier, error) {
			g, err := verify.NewGmail(c.Mail)
			if err != nil {
				return nil, err
			}
			return g, nil
		},
		NewNotifier: func(id string, c account.Credentials) *notifier.AccountNotifier {
			acct, ok := store.Account(id)
			if !ok || !acct.Notifications.EnableTelegram {
				return nil
			}
			token, chat := c.Telegram["bot_token"], c.Telegram["chat_id"]
			if token == "" || chat == "" {
				return nil
			}
			return notifier.NewAccountNotifier(id, notifier.NewTelegram(token, chat))
		},

		Events:  events,
		Samples: samples,

		InMarket: cfg.MarketOpen,
		Location: cfg.Location(),

		SnapshotDir:      cfg.SnapshotDir,
		SnapshotInterval: time.Duration(cfg.Snapshot.IntervalSeconds) * time.Second,
		WatchdogInterval: time.Duration(cfg.Watchdog.IntervalSeconds) * time.Second,
		StopTimeout:      time.Duration(cfg.Watchdog.StopTimeoutSeconds) * time.Second,
	})

	var server *admin.Server
	if cfg.Server.Enabled {
		server, err = admin.NewServer(admin.ServerConfig{
			Addr:       cfg.Server.Listen,
			Supervisor: sup,
			Events:     events,
			Samples:    samples,
		})
		if err != nil {
			return nil, err
		}
	}

	return &App{
		cfg:     cfg,
		store:   store,
		sup:     sup,
		server:  server,
		events:  events,
		samples: samples,
	}, nil
}
