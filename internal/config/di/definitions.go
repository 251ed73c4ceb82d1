package di

import (
	"time"

	"github.com/mintweave/nft-market-engine/internal/api"
	"github.com/mintweave/nft-market-engine/internal/config"
	"github.com/mintweave/nft-market-engine/internal/event"
	"github.com/mintweave/nft-market-engine/internal/eventlog"
	"github.com/mintweave/nft-market-engine/internal/ft"
	"github.com/mintweave/nft-market-engine/internal/ledger"
	"github.com/mintweave/nft-market-engine/internal/market"
	"github.com/mintweave/nft-market-engine/internal/messenger"
	"github.com/mintweave/nft-market-engine/internal/runtime"
	"github.com/patrickmn/go-cache"
	"github.com/sarulabs/di/v2"
	"go.uber.org/zap"
)

var Definitions = []di.Def{
	{
		Name: "journal",
		Build: func(ctn di.Container) (interface{}, error) {
			journal, err := eventlog.NewJournal(config.Get().JournalPath)
			if err != nil {
				zap.L().With(zap.Error(err)).Fatal("Failed to open event journal")
			}

			return journal, nil
		},
		Close: func(obj interface{}) error {
			return obj.(*eventlog.Journal).Close()
		},
	},
	{
		Name: "emitter",
		Build: func(ctn di.Container) (interface{}, error) {
			return event.NewEmitter(ctn.Get("journal").(*eventlog.Journal)), nil
		},
	},
	{
		Name: "cache",
		Build: func(ctn di.Container) (interface{}, error) {
			return cache.New(5*time.Minute, 10*time.Minute), nil
		},
	},
	{
		Name: "runtime",
		Build: func(ctn di.Container) (interface{}, error) {
			rt := runtime.New(nil)
			rt.Register(ctn.Get("ledger").(*ledger.Ledger))
			rt.Register(ctn.Get("market").(*market.Market))
			rt.Register(ctn.Get("ft").(*ft.Token))

			return rt, nil
		},
	},
	{
		Name: "ledger",
		Build: func(ctn di.Container) (interface{}, error) {
			cfg := config.Get().Ledger
			emitter := ctn.Get("emitter").(event.Emitter)

			return ledger.New(cfg.Account, cfg.Minter, cfg.StorageCost, emitter), nil
		},
	},
	{
		Name: "market",
		Build: func(ctn di.Container) (interface{}, error) {
			cfg := config.Get().Market
			emitter := ctn.Get("emitter").(event.Emitter)

			return market.New(market.Config{
				Account:           cfg.Account,
				OwnerID:           cfg.Owner,
				FallbackCut:       cfg.FallbackCut,
				PlatformCut:       cfg.PlatformCut,
				LockSeconds:       cfg.LockSeconds,
				ListingStorageFee: cfg.ListingStorageFee,
				MaxPayoutLen:      cfg.MaxPayoutLen,
			}, emitter), nil
		},
	},
	{
		Name: "ft",
		Build: func(ctn di.Container) (interface{}, error) {
			cfg := config.Get().Ft

			return ft.New(cfg.Account, cfg.Symbol), nil
		},
	},
	{
		Name: "messenger",
		Build: func(ctn di.Container) (interface{}, error) {
			cfg := config.Get()

			return messenger.NewMessenger(cfg.WebhookUrl, cfg.WebhookRetries), nil
		},
	},
	{
		Name: "api",
		Build: func(ctn di.Container) (interface{}, error) {
			return api.NewServer(
				config.Get().ApiPort,
				ctn.Get("runtime").(*runtime.Runtime),
				ctn.Get("ledger").(*ledger.Ledger),
				ctn.Get("market").(*market.Market),
				ctn.Get("ft").(*ft.Token),
				ctn.Get("journal").(*eventlog.Journal),
				ctn.Get("cache").(*cache.Cache),
			), nil
		},
	},
}

// Container wraps the raw di container with typed getters.
type Container struct {
	ctn di.Container
}

func NewContainer() (*Container, error) {
	builder, err := di.NewBuilder()
	if err != nil {
		return nil, err
	}
	if err := builder.Add(Definitions...); err != nil {
		return nil, err
	}

	return &Container{ctn: builder.Build()}, nil
}

func (c *Container) Delete() error {
	return c.ctn.Delete()
}

func (c *Container) GetRuntime() *runtime.Runtime {
	return c.ctn.Get("runtime").(*runtime.Runtime)
}

func (c *Container) GetLedger() *ledger.Ledger {
	return c.ctn.Get("ledger").(*ledger.Ledger)
}

func (c *Container) GetMarket() *market.Market {
	return c.ctn.Get("market").(*market.Market)
}

func (c *Container) GetFt() *ft.Token {
	return c.ctn.Get("ft").(*ft.Token)
}

func (c *Container) GetJournal() *eventlog.Journal {
	return c.ctn.Get("journal").(*eventlog.Journal)
}

func (c *Container) GetEmitter() event.Emitter {
	return c.ctn.Get("emitter").(event.Emitter)
}

func (c *Container) GetMessenger() messenger.MessageService {
	return c.ctn.Get("messenger").(messenger.MessageService)
}

func (c *Container) GetApi() *api.Server {
	return c.ctn.Get("api").(*api.Server)
}
