package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phenomenon0/injective-agents/core"
	"github.com/phenomenon0/injective-agents/internal/config"
	"github.com/phenomenon0/injective-agents/pkg/eth"
	"github.com/phenomenon0/injective-agents/pkg/injective/broadcast"
	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"
	"github.com/phenomenon0/injective-agents/pkg/injective/indexer"
	"github.com/phenomenon0/injective-agents/pkg/injective/network"
	"github.com/phenomenon0/injective-agents/pkg/injective/tokens"
	"github.com/phenomenon0/injective-agents/pkg/trader/metrics"
	"github.com/phenomenon0/injective-agents/pkg/trader/paper"
	"github.com/phenomenon0/injective-agents/pkg/trader/policy"
	"github.com/phenomenon0/injective-agents/pkg/trader/streaming"
	injtools "github.com/phenomenon0/injective-agents/tools/injective"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// app wires the desk, its observers and the tool registry from config.
type app struct {
	cfg     *config.Config
	net     network.Network
	logger  *logrus.Logger
	started time.Time

	wallet   *eth.Wallet
	desk     *derivative.Desk
	registry *core.ToolRegistry

	metrics *metrics.TradingMetrics
	hub     *streaming.Hub
	policy  *policy.PolicyEngine              // nil when disabled
	geo     *policy.GeoBlocker                // nil unless policy.geo_check
	papers  map[network.Network]*paper.Engine // empty unless paper.enabled
}

func newApp(cfg *config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		net:     cfg.NetworkID(),
		logger:  logger,
		started: time.Now(),
		metrics: metrics.NewTradingMetrics(),
		papers:  make(map[network.Network]*paper.Engine),
	}
	hubOpts := []streaming.HubOption{streaming.WithLogger(logger)}
	if cfg.Server.Heartbeat > 0 {
		hubOpts = append(hubOpts, streaming.WithHeartbeat(cfg.Server.Heartbeat))
	}
	a.hub = streaming.NewHub(hubOpts...)

	wallet, err := a.loadWallet()
	if err != nil {
		return nil, err
	}
	a.wallet = wallet

	deskOpts := []derivative.DeskOption{derivative.WithLogger(logger)}
	if cfg.Orders.ClientIDPrefix != "" {
		deskOpts = append(deskOpts, derivative.WithClientIDPrefix(cfg.Orders.ClientIDPrefix))
	}
	if cfg.Wallet.FeeRecipient != "" {
		deskOpts = append(deskOpts, derivative.WithFeeRecipient(cfg.Wallet.FeeRecipient))
	}

	for _, n := range network.All() {
		venue, err := a.buildVenue(n)
		if err != nil {
			return nil, fmt.Errorf("%s venue: %w", n, err)
		}
		if venue != nil {
			deskOpts = append(deskOpts, derivative.WithVenue(n, venue))
		}
	}

	if cfg.Policy.Enabled {
		a.policy = policy.NewPolicyEngine(riskLimits(cfg.Policy))
		deskOpts = append(deskOpts, derivative.WithGuard(a.policy), derivative.WithObserver(a.policy))
	}
	if cfg.Policy.GeoCheck {
		var geoOpts []policy.GeoOption
		if len(cfg.Policy.BlockedCountries) > 0 {
			geoOpts = append(geoOpts, policy.WithBlockedCountries(cfg.Policy.BlockedCountries))
		}
		a.geo = policy.NewGeoBlocker(geoOpts...)
	}

	deskOpts = append(deskOpts,
		derivative.WithObserver(a.metrics),
		derivative.WithObserver(a.hub),
		derivative.WithObserver(gauges{a}),
	)

	a.desk, err = derivative.NewDesk(wallet, deskOpts...)
	if err != nil {
		return nil, err
	}

	a.registry = core.NewToolRegistry(core.WithInvokeHook(a.metrics.RecordToolCall))
	injtools.RegisterReadOnlyTools(a.registry, a.desk, tokens.Default())
	injtools.RegisterTradingTools(a.registry, a.desk)

	logger.WithFields(logrus.Fields{
		"network":  a.net,
		"address":  wallet.InjectiveAddress(),
		"paper":    cfg.Paper.Enabled,
		"policy":   cfg.Policy.Enabled,
		"networks": a.desk.Networks(),
	}).Info("agent initialized")

	return a, nil
}

func (a *app) loadWallet() (*eth.Wallet, error) {
	if a.cfg.Wallet.PrivateKey != "" {
		return eth.NewWallet(a.cfg.Wallet.PrivateKey)
	}
	if a.cfg.Paper.Enabled {
		a.logger.Warn("no private key configured, paper trading with a throwaway wallet")
		return eth.GenerateWallet()
	}
	return nil, fmt.Errorf("wallet.private_key is required (set %s_WALLET_PRIVATE_KEY or PRIVATE_KEY)", config.EnvPrefix)
}

// buildVenue returns nil for a network without an indexer endpoint.
func (a *app) buildVenue(n network.Network) (*derivative.Venue, error) {
	ep := a.cfg.Endpoints.For(n)
	if ep.Indexer == "" {
		return nil, nil
	}

	ic := a.cfg.Indexer
	var opts []indexer.ClientOption
	if ic.Timeout > 0 {
		opts = append(opts, indexer.WithTimeout(ic.Timeout))
	}
	if ic.RateLimit > 0 {
		opts = append(opts, indexer.WithRateLimit(ic.RateLimit, max(ic.Burst, 1)))
	}
	if ic.Retries >= 0 {
		opts = append(opts, indexer.WithRetries(ic.Retries))
	}
	client := indexer.NewClient(ep.Indexer, opts...)

	venue := &derivative.Venue{
		Markets:    derivative.WithMarketCache(client, a.cfg.Markets.CacheTTL),
		Orderbooks: client,
		Positions:  client,
	}

	if a.cfg.Paper.Enabled {
		engine := paper.NewEngine(a.simulationConfig(n), client,
			paper.WithMarkets(venue.Markets),
			paper.WithLogger(a.logger.WithField("network", n)),
		)
		engine.OnTrade(a.recordPaperTrade)
		a.papers[n] = engine
		venue.Broadcaster = engine
		venue.Positions = engine
		return venue, nil
	}

	if ep.Relay == "" {
		venue.Broadcaster = noRelay{net: n}
		return venue, nil
	}
	relay, err := a.buildRelay(ep.Relay, n)
	if err != nil {
		return nil, err
	}
	venue.Broadcaster = relay
	return venue, nil
}

func (a *app) buildRelay(url string, n network.Network) (*broadcast.Relay, error) {
	opts := []broadcast.RelayOption{broadcast.WithLogger(a.logger)}

	rc := a.cfg.Relay
	switch broadcast.AuthType(strings.ToLower(rc.AuthType)) {
	case broadcast.AuthTypeHMAC:
		auth, err := broadcast.NewHMACAuthenticator(&eth.RelayCredentials{APIKey: rc.APIKey, Secret: rc.Secret})
		if err != nil {
			return nil, err
		}
		opts = append(opts, broadcast.WithAuthenticator(auth))
	case broadcast.AuthTypeJWT:
		auth, err := broadcast.NewJWTAuthenticator(rc.KeyName, rc.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		opts = append(opts, broadcast.WithAuthenticator(auth))
	}

	return broadcast.NewRelay(url, n.ChainID(), opts...)
}

func (a *app) simulationConfig(n network.Network) *paper.SimulationConfig {
	pc := a.cfg.Paper
	sim := paper.DefaultSimulationConfig()
	sim.Mode = paper.ParseMode(pc.Mode)
	sim.ChainID = n.ChainID()
	if pc.InitialBalance > 0 {
		sim.InitialBalance = decimal.NewFromFloat(pc.InitialBalance).Shift(derivative.DefaultQuoteDecimals)
	}
	sim.MakerFeeRate = decimal.NewFromFloat(pc.MakerFeeRate)
	sim.TakerFeeRate = decimal.NewFromFloat(pc.TakerFeeRate)
	return sim
}

// recordPaperTrade runs under the engine lock and must not call back into it.
func (a *app) recordPaperTrade(tr *paper.Trade) {
	side := "sell"
	if tr.IsBuy {
		side = "buy"
	}
	volume := tr.Price.Mul(tr.Quantity).Shift(-derivative.DefaultQuoteDecimals)
	fee := tr.Fee.Shift(-derivative.DefaultQuoteDecimals)
	a.metrics.RecordPaperTrade(side, tr.MarketID, metrics.DecimalToFloat64(volume), metrics.DecimalToFloat64(fee))
	a.hub.BroadcastFill(tr.MarketID, tr)
}

// paperEngine returns the engine of the default network, if any.
func (a *app) paperEngine() *paper.Engine {
	return a.papers[a.net]
}

// runPaperTicks re-prices resting and conditional paper orders until ctx is done.
func (a *app) runPaperTicks(ctx context.Context, every time.Duration) {
	if len(a.papers) == 0 || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tickPaper(ctx)
		}
	}
}

func (a *app) tickPaper(ctx context.Context) {
	for n, engine := range a.papers {
		seen := map[string]bool{}
		for _, o := range engine.GetOpenOrders() {
			if seen[o.MarketID] {
				continue
			}
			seen[o.MarketID] = true
			if _, err := engine.ProcessTick(ctx, o.MarketID); err != nil {
				a.logger.WithError(err).WithFields(logrus.Fields{
					"network":   n,
					"market_id": o.MarketID,
				}).Warn("paper tick failed")
			}
		}
	}
}

// checkJurisdiction refuses to start when the geo check is on and the
// host's location is blocked.
func (a *app) checkJurisdiction(ctx context.Context) error {
	if a.geo == nil {
		return nil
	}
	check := a.geo.PerformJurisdictionCheck(ctx)
	a.logger.WithFields(logrus.Fields{
		"country": check.CountryCode,
		"allowed": check.Allowed,
	}).Info("jurisdiction check")
	if !check.Allowed {
		return fmt.Errorf("jurisdiction check failed: %s", check.Reason)
	}
	return nil
}

// status is served on /status.
func (a *app) status() map[string]any {
	out := map[string]any{
		"network":    a.net,
		"networks":   a.desk.Networks(),
		"address":    a.wallet.InjectiveAddress(),
		"subaccount": a.wallet.DefaultSubaccountID(),
		"paper":      a.cfg.Paper.Enabled,
		"uptime":     time.Since(a.started).Round(time.Second).String(),
		"ws_clients": a.hub.ClientCount(),
	}
	if a.policy != nil {
		out["policy"] = a.policy.Status()
	}
	if engine := a.paperEngine(); engine != nil {
		out["paper_balance"] = engine.GetBalance().Shift(-derivative.DefaultQuoteDecimals).StringFixed(2)
		out["paper_stats"] = engine.GetStats()
	}
	return out
}

func riskLimits(pc config.PolicyConfig) *policy.RiskLimits {
	return &policy.RiskLimits{
		MaxOrderNotional:    decimal.NewFromFloat(pc.MaxOrderNotional),
		MinOrderNotional:    decimal.NewFromFloat(pc.MinOrderNotional),
		MaxLeverage:         decimal.NewFromFloat(pc.MaxLeverage),
		MaxSlippage:         decimal.NewFromFloat(pc.MaxSlippage),
		MaxPositionNotional: decimal.NewFromFloat(pc.MaxPositionNotional),
		MaxDailyOrders:      pc.MaxDailyOrders,
		MaxDailyNotional:    decimal.NewFromFloat(pc.MaxDailyNotional),
		AllowedMarkets:      pc.AllowedMarkets,
		BlockedMarkets:      pc.BlockedMarkets,
	}
}

// gauges refreshes point-in-time metrics after each desk event, once the
// policy engine and paper engine have settled.
type gauges struct {
	a *app
}

func (g gauges) ObserveOrder(derivative.OrderEvent) {
	if g.a.policy != nil {
		notional, orders := g.a.policy.GetDailyStats()
		g.a.metrics.UpdatePolicy(orders, metrics.DecimalToFloat64(notional))
	}
	if engine := g.a.paperEngine(); engine != nil {
		balance := engine.GetBalance().Shift(-derivative.DefaultQuoteDecimals)
		g.a.metrics.UpdatePaperBalance(metrics.DecimalToFloat64(balance))
	}
}

func (g gauges) ObservePositions(derivative.PositionsEvent) {}

// noRelay is the broadcaster of a live network without a relay endpoint.
type noRelay struct {
	net network.Network
}

func (n noRelay) Broadcast(context.Context, *derivative.OrderTx, *eth.Wallet) (string, error) {
	return "", fmt.Errorf("no relay configured for %s (set endpoints.%s.relay)", n.net, strings.ToLower(n.net.String()))
}
