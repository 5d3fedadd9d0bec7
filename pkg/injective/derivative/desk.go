package derivative

import (
	"context"
	"fmt"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/eth"
	"github.com/phenomenon0/injective-agents/pkg/injective/network"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Broadcaster signs and submits an order transaction, returning its hash.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *OrderTx, wallet *eth.Wallet) (string, error)
}

// Guard can veto an order after pricing and before encoding.
type Guard interface {
	CheckOrder(check *OrderCheck) error
}

// Observer receives order and position events.
type Observer interface {
	ObserveOrder(ev OrderEvent)
	ObservePositions(ev PositionsEvent)
}

// Venue bundles the sources and broadcaster for one network.
type Venue struct {
	Markets     MarketSource
	Orderbooks  OrderbookSource
	Positions   PositionSource
	Broadcaster Broadcaster
}

// Desk assembles, signs and broadcasts derivative orders for one wallet.
type Desk struct {
	wallet       *eth.Wallet
	venues       map[network.Network]*Venue
	feeRecipient string
	cidPrefix    string
	now          func() time.Time
	logger       logrus.FieldLogger
	guard        Guard
	observers    []Observer
}

// DeskOption configures the desk.
type DeskOption func(*Desk)

// WithVenue registers the venue used for a network.
func WithVenue(net network.Network, v *Venue) DeskOption {
	return func(d *Desk) {
		d.venues[net] = v
	}
}

// WithFeeRecipient overrides the fee recipient (default: the wallet's inj address).
func WithFeeRecipient(addr string) DeskOption {
	return func(d *Desk) {
		d.feeRecipient = addr
	}
}

// WithClientIDPrefix sets the prefix of market order client ids.
func WithClientIDPrefix(prefix string) DeskOption {
	return func(d *Desk) {
		d.cidPrefix = prefix
	}
}

// WithClock sets the time source used for client ids and event timestamps.
func WithClock(now func() time.Time) DeskOption {
	return func(d *Desk) {
		d.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) DeskOption {
	return func(d *Desk) {
		d.logger = l
	}
}

// WithGuard installs a pre-trade guard.
func WithGuard(g Guard) DeskOption {
	return func(d *Desk) {
		d.guard = g
	}
}

// WithObserver adds an event observer.
func WithObserver(o Observer) DeskOption {
	return func(d *Desk) {
		d.observers = append(d.observers, o)
	}
}

// NewDesk creates a desk trading with wallet.
func NewDesk(wallet *eth.Wallet, opts ...DeskOption) (*Desk, error) {
	if wallet == nil {
		return nil, fmt.Errorf("wallet is required")
	}

	d := &Desk{
		wallet:    wallet,
		venues:    make(map[network.Network]*Venue),
		cidPrefix: DefaultClientIDPrefix,
		now:       time.Now,
		logger:    logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.feeRecipient == "" {
		d.feeRecipient = wallet.InjectiveAddress()
	}

	return d, nil
}

// Wallet returns the desk's wallet.
func (d *Desk) Wallet() *eth.Wallet {
	return d.wallet
}

// Networks lists the networks with a registered venue.
func (d *Desk) Networks() []network.Network {
	out := make([]network.Network, 0, len(d.venues))
	for _, n := range network.All() {
		if _, ok := d.venues[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

func (d *Desk) venue(net network.Network) (*Venue, error) {
	v, ok := d.venues[net]
	if !ok || v == nil {
		return nil, validationf("network %s is not configured", net)
	}
	return v, nil
}

// Market resolves a market on net.
func (d *Desk) Market(ctx context.Context, net network.Network, ref MarketRef) (*Market, error) {
	v, err := d.venue(net)
	if err != nil {
		return nil, err
	}
	return ResolveMarket(ctx, v.Markets, ref)
}

// Orderbook returns a venue's orderbook source for read-only tooling.
func (d *Desk) Orderbook(net network.Network) (OrderbookSource, error) {
	v, err := d.venue(net)
	if err != nil {
		return nil, err
	}
	return v.Orderbooks, nil
}

// CreateMarketOrder prices an order off the top of book with slippage,
// then assembles and broadcasts it.
func (d *Desk) CreateMarketOrder(ctx context.Context, net network.Network, in MarketOrderIntent) (*OrderResult, error) {
	slippage := in.SlippagePercent.Div(decimal.NewFromInt(100))

	return d.submit(ctx, net, KindMarketOrder, in.OrderIntent, in.validate, slippage,
		func(ctx context.Context, v *Venue, m *Market) (decimal.Decimal, error) {
			worst, err := EstimateWorstPrice(ctx, v.Orderbooks, m.MarketID, in.OrderType.IsBuy(), slippage)
			if err != nil {
				return decimal.Zero, err
			}
			// Book prices are chain units
			return worst.Shift(-m.Decimals()), nil
		})
}

// CreateLimitOrder assembles and broadcasts an order at the given human price.
func (d *Desk) CreateLimitOrder(ctx context.Context, net network.Network, in LimitOrderIntent) (*OrderResult, error) {
	return d.submit(ctx, net, KindLimitOrder, in.OrderIntent, in.validate, decimal.Zero,
		func(context.Context, *Venue, *Market) (decimal.Decimal, error) {
			return in.Price, nil
		})
}

type priceFunc func(ctx context.Context, v *Venue, m *Market) (decimal.Decimal, error)

func (d *Desk) submit(
	ctx context.Context,
	net network.Network,
	kind OrderKind,
	in OrderIntent,
	validate func() error,
	slippage decimal.Decimal,
	priceOf priceFunc,
) (*OrderResult, error) {
	start := d.now()
	res := &OrderResult{
		RequestID: uuid.NewString(),
		Network:   net.String(),
		Kind:      kind,
		Ticker:    in.Market.Ticker,
		MarketID:  in.Market.MarketID,
		OrderType: in.OrderType,
		Leverage:  in.Leverage,
	}
	log := d.logger.WithFields(logrus.Fields{
		"request_id": res.RequestID,
		"network":    net,
		"kind":       kind,
		"market":     in.Market.String(),
		"order_type": in.OrderType.String(),
	})

	err := d.assemble(ctx, net, kind, in, validate, slippage, priceOf, res, log)

	ev := OrderEvent{
		RequestID: res.RequestID,
		Network:   res.Network,
		Kind:      kind,
		Ticker:    res.Ticker,
		MarketID:  res.MarketID,
		OrderType: in.OrderType,
		Quantity:  res.Quantity,
		Price:     res.Price,
		Margin:    res.Margin,
		TxHash:    res.TxHash,
		Duration:  d.now().Sub(start),
		Timestamp: d.now(),
	}
	if err != nil {
		ev.Error = err.Error()
		ev.ErrorKind = KindOf(err)
		log.WithError(err).WithField("error_kind", ev.ErrorKind).Warn("order rejected")
	} else {
		log.WithField("tx_hash", res.TxHash).Info("order broadcast")
	}
	for _, o := range d.observers {
		o.ObserveOrder(ev)
	}

	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Desk) assemble(
	ctx context.Context,
	net network.Network,
	kind OrderKind,
	in OrderIntent,
	validate func() error,
	slippage decimal.Decimal,
	priceOf priceFunc,
	res *OrderResult,
	log logrus.FieldLogger,
) error {
	// Synchronous checks run before any network call
	if err := validate(); err != nil {
		return err
	}
	v, err := d.venue(net)
	if err != nil {
		return err
	}

	market, err := ResolveMarket(ctx, v.Markets, in.Market)
	if err != nil {
		return err
	}
	res.Ticker = market.Ticker
	res.MarketID = market.MarketID

	if err := CheckLeverage(in.Leverage, market.InitialMarginRatio); err != nil {
		return err
	}

	quantity, err := NormalizeQuantity(in.Quantity, market.MinQuantityTickSize)
	if err != nil {
		return err
	}
	res.Quantity = quantity

	price, err := priceOf(ctx, v, market)
	if err != nil {
		return err
	}
	res.Price = price

	margin, err := ComputeMargin(in.Margin, price, quantity, in.Leverage, market.Decimals())
	if err != nil {
		return err
	}
	res.Margin = margin

	if d.guard != nil {
		check := &OrderCheck{
			Network:  net.String(),
			Kind:     kind,
			MarketID: market.MarketID,
			Ticker:   market.Ticker,
			IsBuy:    in.OrderType.IsBuy(),
			Quantity: quantity,
			Price:    price,
			Margin:   margin,
			Leverage: in.Leverage,
			Slippage: slippage,
			Notional: price.Mul(quantity),
		}
		if err := d.guard.CheckOrder(check); err != nil {
			return &Error{Kind: KindPolicy, Msg: "order blocked by policy", Err: err}
		}
	}

	msg, err := d.encode(kind, in, market, quantity, price, margin)
	if err != nil {
		return err
	}
	res.Message = msg

	log.WithFields(logrus.Fields{
		"market_id": msg.MarketID,
		"price":     msg.Price,
		"quantity":  msg.Quantity,
		"margin":    msg.Margin,
	}).Debug("order encoded")

	typeURL := MsgTypeMarketOrder
	if kind == KindLimitOrder {
		typeURL = MsgTypeLimitOrder
	}
	tx := &OrderTx{
		TypeURL: typeURL,
		Sender:  d.wallet.InjectiveAddress(),
		Order:   msg,
	}

	hash, err := v.Broadcaster.Broadcast(ctx, tx, d.wallet)
	if err != nil {
		return broadcastErr(err)
	}
	res.TxHash = hash
	return nil
}

func (d *Desk) encode(kind OrderKind, in OrderIntent, m *Market, quantity, price, margin decimal.Decimal) (OrderMessage, error) {
	enc := MarketEncoder(m)

	priceStr, err := enc.Price(price)
	if err != nil {
		return OrderMessage{}, err
	}
	qtyStr, err := enc.Quantity(quantity)
	if err != nil {
		return OrderMessage{}, err
	}
	marginStr, err := enc.Margin(margin)
	if err != nil {
		return OrderMessage{}, err
	}
	triggerStr, err := enc.TriggerPrice(in.TriggerPrice)
	if err != nil {
		return OrderMessage{}, err
	}

	msg := OrderMessage{
		MarketID:     m.MarketID,
		SubaccountID: d.subaccountID(in),
		OrderType:    in.OrderType,
		Price:        priceStr,
		Quantity:     qtyStr,
		Margin:       marginStr,
		TriggerPrice: triggerStr,
		FeeRecipient: d.feeRecipient,
	}
	if kind == KindMarketOrder {
		msg.Cid = fmt.Sprintf("%s-%d", d.cidPrefix, d.now().UnixMilli())
	}
	return msg, nil
}

func (d *Desk) subaccountID(in OrderIntent) string {
	if idx, ok := in.SubaccountIndex.Get(); ok {
		return d.wallet.SubaccountID(uint32(idx))
	}
	return d.wallet.DefaultSubaccountID()
}
