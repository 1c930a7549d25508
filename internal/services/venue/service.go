// Package venue builds the AMM and order book venues the router trades on.
package venue

import (
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/hxuan190/hybrid-router/internal/adapters/amm"
	"github.com/hxuan190/hybrid-router/internal/adapters/chain"
	"github.com/hxuan190/hybrid-router/internal/adapters/orderbook"
	"github.com/hxuan190/hybrid-router/internal/config"
	"github.com/hxuan190/hybrid-router/internal/domain"
	"github.com/hxuan190/hybrid-router/internal/services"
)

const VENUE_SERVICE = "venue-service"

type Service struct {
	container.BaseDIInstance
	logger *services.ServiceLogger
	config *config.VenueConfig

	tokens *domain.TokenRegistry
	client *ethclient.Client

	amm       *amm.Venue
	book      orderbook.Venue
	localBook *orderbook.Book
	pools     map[domain.Pair]*amm.Pool
}

func (svc *Service) ID() string {
	return VENUE_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	svc.config = c.GetConfig(config.VENUE_CONFIG_KEY).(*config.VenueConfig)

	var err error
	if svc.tokens, err = svc.config.TokenRegistry(); err != nil {
		return err
	}
	pairs, err := svc.config.PairList()
	if err != nil {
		return err
	}

	if svc.config.Mode == config.VenueModeRemote {
		return svc.configureRemote(pairs)
	}
	return svc.configureLocal(pairs)
}

func (svc *Service) configureLocal(pairs []domain.Pair) error {
	svc.amm = amm.NewVenue()
	svc.pools = make(map[domain.Pair]*amm.Pool, len(pairs))
	for _, p := range pairs {
		base, quote, err := svc.tokens.Resolve(p)
		if err != nil {
			return err
		}
		pool, err := amm.NewPool(p, base.Decimals, quote.Decimals, svc.config.SeedBase, svc.config.SeedQuote, uint64(svc.config.AMMFeeBps))
		if err != nil {
			return err
		}
		svc.amm.Register(pool)
		svc.pools[p] = pool
	}
	svc.localBook = orderbook.NewBook()
	svc.book = svc.localBook

	svc.logger.Info().
		Int("pairs", len(pairs)).
		Str("seed_base", svc.config.SeedBase.String()).
		Str("seed_quote", svc.config.SeedQuote.String()).
		Msg("local venues ready")
	return nil
}

func (svc *Service) configureRemote(pairs []domain.Pair) error {
	client, err := chain.Dial(svc.config.AMMRPCURL)
	if err != nil {
		return err
	}

	var transactor *chain.Transactor
	if svc.config.AMMPrivateKey != "" {
		transactor, err = chain.NewTransactor(svc.config.AMMPrivateKey, big.NewInt(svc.config.AMMChainID))
		if err != nil {
			client.Close()
			return err
		}
	} else {
		svc.logger.Warn().Msg("AMM_PRIVATE_KEY not set, AMM swaps will be rejected")
	}

	addrs, err := svc.config.PoolAddresses()
	if err != nil {
		client.Close()
		return err
	}

	svc.amm = amm.NewVenue()
	for i, p := range pairs {
		base, quote, err := svc.tokens.Resolve(p)
		if err != nil {
			client.Close()
			return err
		}
		pool, err := amm.NewEVMPool(client, transactor, amm.EVMPoolConfig{
			Pair:          p,
			Address:       addrs[i],
			BaseDecimals:  base.Decimals,
			QuoteDecimals: quote.Decimals,
			FeeBps:        uint64(svc.config.AMMFeeBps),
			TxTimeout:     chain.DefaultTxTimeout,
		})
		if err != nil {
			client.Close()
			return err
		}
		svc.amm.Register(pool)
	}
	svc.client = client
	svc.book = orderbook.NewClient(svc.config.BookURL, 0)

	svc.logger.Info().
		Int("pairs", len(pairs)).
		Str("book", svc.config.BookURL).
		Msg("remote venues ready")
	return nil
}

func (svc *Service) Start() error {
	return nil
}

func (svc *Service) Stop() error {
	if svc.client != nil {
		svc.client.Close()
	}
	return nil
}

func (svc *Service) AMM() *amm.Venue {
	return svc.amm
}

func (svc *Service) Book() orderbook.Venue {
	return svc.book
}

// LocalBook is the in-process book, nil in remote mode.
func (svc *Service) LocalBook() *orderbook.Book {
	return svc.localBook
}

// LocalPool returns the in-process pool for pair, nil in remote mode.
func (svc *Service) LocalPool(pair domain.Pair) *amm.Pool {
	return svc.pools[pair]
}

func (svc *Service) Tokens() *domain.TokenRegistry {
	return svc.tokens
}
