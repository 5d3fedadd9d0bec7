package paper

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/eth"
	"github.com/phenomenon0/injective-agents/pkg/injective/book"
	"github.com/phenomenon0/injective-agents/pkg/injective/broadcast"
	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Engine is the paper trading simulation engine. It implements
// derivative.Broadcaster and derivative.PositionSource.
type Engine struct {
	config  *SimulationConfig
	account *Account
	books   derivative.OrderbookSource
	markets derivative.MarketSource
	now     func() time.Time
	logger  logrus.FieldLogger

	mu       sync.RWMutex
	orderSeq int64
	tradeSeq int64

	// Callbacks
	onOrder func(*Order)
	onTrade func(*Trade)
	onFill  func(*Order, *Fill)
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithMarkets lets the engine attach tickers to reported positions.
func WithMarkets(src derivative.MarketSource) EngineOption {
	return func(e *Engine) {
		e.markets = src
	}
}

// WithClock sets the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a new paper trading engine filling against books.
func NewEngine(config *SimulationConfig, books derivative.OrderbookSource, opts ...EngineOption) *Engine {
	if config == nil {
		config = DefaultSimulationConfig()
	}

	e := &Engine{
		config: config,
		books:  books,
		now:    time.Now,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.account = e.newAccount()
	return e
}

func (e *Engine) newAccount() *Account {
	now := e.now()
	return &Account{
		ID:             uuid.New().String(),
		InitialBalance: e.config.InitialBalance,
		Balance:        e.config.InitialBalance,
		Positions:      make(map[string]*Position),
		OpenOrders:     make(map[string]*Order),
		TradeHistory:   make([]Trade, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// OnOrder sets a callback for order events.
func (e *Engine) OnOrder(fn func(*Order)) {
	e.onOrder = fn
}

// OnTrade sets a callback for trade events.
func (e *Engine) OnTrade(fn func(*Trade)) {
	e.onTrade = fn
}

// OnFill sets a callback for fill events.
func (e *Engine) OnFill(fn func(*Order, *Fill)) {
	e.onFill = fn
}

// Broadcast verifies the transaction signature the way a relay would,
// then places the order. Rejections are broadcast errors.
func (e *Engine) Broadcast(ctx context.Context, tx *derivative.OrderTx, wallet *eth.Wallet) (string, error) {
	req, err := broadcast.NewRequest(e.config.ChainID, tx, wallet)
	if err != nil {
		return "", err
	}
	if err := broadcast.Verify(req); err != nil {
		return "", derivative.NewBroadcastError("signature verification failed", err)
	}

	order, err := decodeOrder(tx)
	if err != nil {
		return "", derivative.NewBroadcastError(err.Error(), nil)
	}

	// Fetch outside the lock; resting conditional orders do not need the book
	var ob book.Snapshot
	haveBook := false
	if !order.OrderType.IsConditional() {
		ob, err = e.books.FetchOrderbook(ctx, order.MarketID)
		if err != nil && order.IsMarket {
			return "", derivative.NewBroadcastError("orderbook unavailable", err)
		}
		haveBook = err == nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.orderSeq++
	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, uint64(e.orderSeq))
	order.ID = fmt.Sprintf("paper-%d", e.orderSeq)
	order.TxHash = crypto.Keccak256Hash(req.Msg, seq).Hex()
	order.CreatedAt = e.now()
	order.UpdatedAt = order.CreatedAt

	if err := e.place(order, ob, haveBook); err != nil {
		order.Status = OrderStatusRejected
		e.notifyOrder(order)
		e.logger.WithFields(logrus.Fields{
			"order_id":  order.ID,
			"market_id": order.MarketID,
		}).WithError(err).Warn("paper order rejected")
		return "", derivative.NewBroadcastError(err.Error(), nil)
	}

	e.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"market_id": order.MarketID,
		"status":    order.Status.String(),
		"tx_hash":   order.TxHash,
	}).Info("paper order placed")

	return order.TxHash, nil
}

// place must be called with the lock held.
func (e *Engine) place(order *Order, ob book.Snapshot, haveBook bool) error {
	if order.Margin.GreaterThan(e.account.Balance) {
		return fmt.Errorf("insufficient balance: have %s, need %s", e.account.Balance, order.Margin)
	}

	switch {
	case order.OrderType.IsConditional():
		e.reserve(order)

	case order.IsMarket:
		price, err := e.marketFillPrice(order, ob)
		if err != nil {
			return err
		}
		e.reserve(order)
		e.executeFill(order, price, order.Quantity, e.config.TakerFeeRate)

	default:
		crossPrice, crosses := crossing(order, ob, haveBook)
		if crosses && isPostOnly(order.OrderType) {
			return fmt.Errorf("post-only order would cross the book at %s", crossPrice)
		}
		e.reserve(order)
		if crosses {
			e.executeFill(order, crossPrice, order.Quantity, e.config.TakerFeeRate)
		}
	}
	return nil
}

func (e *Engine) reserve(order *Order) {
	e.account.Balance = e.account.Balance.Sub(order.Margin)
	e.account.OpenOrders[order.ID] = order
	e.account.UpdatedAt = e.now()
	e.notifyOrder(order)
}

func (e *Engine) marketFillPrice(order *Order, ob book.Snapshot) (decimal.Decimal, error) {
	side := book.SideSell
	if order.IsBuy() {
		side = book.SideBuy
	}

	if e.config.Mode == ModeSimple {
		var ok bool
		if order.IsBuy() {
			_, ok = ob.BestAsk()
		} else {
			_, ok = ob.BestBid()
		}
		if !ok {
			return decimal.Zero, fmt.Errorf("no liquidity on %s side", side)
		}
		return order.Price, nil
	}

	vwap, err := ob.VolumeWeightedPrice(side, order.Quantity)
	if err != nil {
		return decimal.Zero, err
	}
	if order.IsBuy() && vwap.GreaterThan(order.Price) {
		return decimal.Zero, fmt.Errorf("average fill price %s exceeds worst price %s", vwap, order.Price)
	}
	if !order.IsBuy() && vwap.LessThan(order.Price) {
		return decimal.Zero, fmt.Errorf("average fill price %s below worst price %s", vwap, order.Price)
	}
	return vwap, nil
}

// crossing reports whether a limit order is marketable against ob and
// the best opposite price it would take.
func crossing(order *Order, ob book.Snapshot, haveBook bool) (decimal.Decimal, bool) {
	if !haveBook {
		return decimal.Zero, false
	}
	if order.IsBuy() {
		ask, ok := ob.BestAsk()
		if ok && ask.Price.LessThanOrEqual(order.Price) {
			return ask.Price, true
		}
		return decimal.Zero, false
	}
	bid, ok := ob.BestBid()
	if ok && bid.Price.GreaterThanOrEqual(order.Price) {
		return bid.Price, true
	}
	return decimal.Zero, false
}

func isPostOnly(t derivative.OrderType) bool {
	return t == derivative.OrderTypeBuyPO || t == derivative.OrderTypeSellPO
}

// CancelOrder cancels an open order and releases its unused margin.
func (e *Engine) CancelOrder(orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.account.OpenOrders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}

	e.cancel(order)
	return nil
}

// CancelAllOrders cancels all open orders.
func (e *Engine) CancelAllOrders() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, order := range e.account.OpenOrders {
		e.cancel(order)
		count++
	}
	return count
}

func (e *Engine) cancel(order *Order) {
	unused := order.Margin.Mul(order.Remaining()).Div(order.Quantity)
	e.account.Balance = e.account.Balance.Add(unused)

	order.Status = OrderStatusCanceled
	order.UpdatedAt = e.now()
	delete(e.account.OpenOrders, order.ID)
	e.account.UpdatedAt = order.UpdatedAt
	e.notifyOrder(order)
}

// GetOrder returns a copy of an open order by ID.
func (e *Engine) GetOrder(orderID string) (*Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	order, ok := e.account.OpenOrders[orderID]
	if !ok {
		return nil, false
	}
	return order.clone(), true
}

// GetOpenOrders returns copies of all open orders, oldest first.
func (e *Engine) GetOpenOrders() []*Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	orders := make([]*Order, 0, len(e.account.OpenOrders))
	for _, order := range e.account.OpenOrders {
		orders = append(orders, order.clone())
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders
}

// GetPosition returns a copy of the position of a subaccount in a market.
func (e *Engine) GetPosition(subaccountID, marketID string) (*Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pos, ok := e.account.Positions[positionKey(subaccountID, marketID)]
	if !ok {
		return nil, false
	}
	cp := *pos
	return &cp, true
}

// GetBalance returns the current balance in quote base units.
func (e *Engine) GetBalance() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.account.Balance
}

// GetStats calculates account statistics.
func (e *Engine) GetStats() *AccountStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := &AccountStats{
		OpenOrders:    len(e.account.OpenOrders),
		OpenPositions: len(e.account.Positions),
	}
	for _, trade := range e.account.TradeHistory {
		stats.TotalTrades++
		stats.TotalVolume = stats.TotalVolume.Add(trade.Price.Mul(trade.Quantity))
		stats.TotalFees = stats.TotalFees.Add(trade.Fee)
		stats.RealizedPnl = stats.RealizedPnl.Add(trade.Pnl)

		if trade.Pnl.IsPositive() {
			stats.WinningTrades++
		} else if trade.Pnl.IsNegative() {
			stats.LosingTrades++
		}
	}

	if closed := stats.WinningTrades + stats.LosingTrades; closed > 0 {
		stats.WinRate = decimal.NewFromInt(int64(stats.WinningTrades)).Div(decimal.NewFromInt(int64(closed)))
	}
	return stats
}

// Reset resets the account to initial state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.account = e.newAccount()
	e.orderSeq = 0
	e.tradeSeq = 0
}

// FetchPositions reports open positions in the indexer's units, marked
// at the book midpoint (or the entry price when no book is available).
func (e *Engine) FetchPositions(ctx context.Context, q derivative.PositionQuery) ([]derivative.Position, error) {
	e.mu.RLock()
	matched := make([]Position, 0, len(e.account.Positions))
	for _, pos := range e.account.Positions {
		if matchesQuery(pos, q) {
			matched = append(matched, *pos)
		}
	}
	e.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].OpenedAt.Before(matched[j].OpenedAt) })

	out := make([]derivative.Position, 0, len(matched))
	for _, pos := range matched {
		mark := pos.EntryPrice
		if ob, err := e.books.FetchOrderbook(ctx, pos.MarketID); err == nil && !ob.Midpoint().IsZero() {
			mark = ob.Midpoint()
		}

		ticker := ""
		if e.markets != nil {
			if m, err := e.markets.FetchMarket(ctx, pos.MarketID); err == nil && m != nil {
				ticker = m.Ticker
			}
		}

		out = append(out, derivative.Position{
			Ticker:           ticker,
			MarketID:         pos.MarketID,
			SubaccountID:     pos.SubaccountID,
			Direction:        pos.Direction,
			Quantity:         pos.Quantity,
			EntryPrice:       pos.EntryPrice,
			Margin:           pos.Margin,
			LiquidationPrice: liquidationPrice(&pos),
			MarkPrice:        mark,
			UpdatedAt:        pos.UpdatedAt.UnixMilli(),
			CreatedAt:        pos.OpenedAt.UnixMilli(),
		})
	}
	return out, nil
}

func matchesQuery(pos *Position, q derivative.PositionQuery) bool {
	if q.SubaccountID != "" && pos.SubaccountID != q.SubaccountID {
		return false
	}
	if q.Direction != "" && pos.Direction != q.Direction {
		return false
	}
	if len(q.MarketIDs) == 0 {
		return true
	}
	for _, id := range q.MarketIDs {
		if id == pos.MarketID {
			return true
		}
	}
	return false
}

// liquidationPrice is where the posted margin is fully lost. It ignores
// the maintenance margin requirement.
func liquidationPrice(pos *Position) decimal.Decimal {
	if !pos.Quantity.IsPositive() {
		return decimal.Zero
	}
	perUnit := pos.Margin.Div(pos.Quantity)
	if pos.Direction == derivative.DirectionLong {
		return decimal.Max(pos.EntryPrice.Sub(perUnit), decimal.Zero)
	}
	return pos.EntryPrice.Add(perUnit)
}

// ProcessTick re-reads a market's book, triggers conditional orders and
// fills resting limit orders that have become marketable. It returns the
// number of orders filled.
func (e *Engine) ProcessTick(ctx context.Context, marketID string) (int, error) {
	ob, err := e.books.FetchOrderbook(ctx, marketID)
	if err != nil {
		return 0, err
	}
	mark := ob.Midpoint()

	e.mu.Lock()
	defer e.mu.Unlock()

	orders := make([]*Order, 0, len(e.account.OpenOrders))
	for _, order := range e.account.OpenOrders {
		if order.MarketID == marketID {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })

	filled := 0
	for _, order := range orders {
		if order.OrderType.IsConditional() && !order.Triggered {
			if mark.IsZero() || !triggered(order, mark) {
				continue
			}
			order.Triggered = true
			order.UpdatedAt = e.now()
			e.notifyOrder(order)
		}

		if _, crosses := crossing(order, ob, true); crosses {
			e.executeFill(order, order.Price, order.Remaining(), e.config.MakerFeeRate)
			filled++
		}
	}
	return filled, nil
}

// triggered: stop orders fire when the mark moves against the current
// side, take-profit orders when it moves in favour.
func triggered(order *Order, mark decimal.Decimal) bool {
	switch order.OrderType {
	case derivative.OrderTypeStopBuy, derivative.OrderTypeTakeSell:
		return mark.GreaterThanOrEqual(order.TriggerPrice)
	case derivative.OrderTypeStopSell, derivative.OrderTypeTakeBuy:
		return mark.LessThanOrEqual(order.TriggerPrice)
	default:
		return true
	}
}

// --- Fill Logic ---

func (e *Engine) executeFill(order *Order, price, qty, feeRate decimal.Decimal) {
	now := e.now()
	fee := price.Mul(qty).Mul(feeRate)

	fill := Fill{
		Price:     price,
		Quantity:  qty,
		Fee:       fee,
		Timestamp: now,
	}
	order.Fills = append(order.Fills, fill)

	// Update order
	order.FilledQuantity = order.FilledQuantity.Add(qty)
	if order.FilledQuantity.GreaterThanOrEqual(order.Quantity) {
		order.Status = OrderStatusFilled
		delete(e.account.OpenOrders, order.ID)
	} else {
		order.Status = OrderStatusPartiallyFilled
	}

	totalCost := decimal.Zero
	for _, f := range order.Fills {
		totalCost = totalCost.Add(f.Price.Mul(f.Quantity))
	}
	order.AvgFillPrice = totalCost.Div(order.FilledQuantity)
	order.UpdatedAt = now

	e.account.Balance = e.account.Balance.Sub(fee)

	marginShare := order.Margin.Mul(qty).Div(order.Quantity)
	pnl := e.applyToPosition(order, qty, price, marginShare)

	e.tradeSeq++
	trade := Trade{
		ID:        fmt.Sprintf("trade-%d", e.tradeSeq),
		OrderID:   order.ID,
		MarketID:  order.MarketID,
		IsBuy:     order.IsBuy(),
		Price:     price,
		Quantity:  qty,
		Fee:       fee,
		Pnl:       pnl,
		Timestamp: now,
	}
	e.account.TradeHistory = append(e.account.TradeHistory, trade)
	e.account.UpdatedAt = now

	if e.onFill != nil {
		e.onFill(order, &fill)
	}
	if e.onTrade != nil {
		e.onTrade(&trade)
	}
	e.notifyOrder(order)
}

// applyToPosition updates the position and returns the PnL realized by
// this fill. Closing fills release margin and PnL back to the balance.
func (e *Engine) applyToPosition(order *Order, qty, price, marginShare decimal.Decimal) decimal.Decimal {
	now := e.now()
	key := positionKey(order.SubaccountID, order.MarketID)
	dir := derivative.DirectionShort
	if order.IsBuy() {
		dir = derivative.DirectionLong
	}

	pos, exists := e.account.Positions[key]
	if !exists {
		e.account.Positions[key] = &Position{
			MarketID:     order.MarketID,
			SubaccountID: order.SubaccountID,
			Direction:    dir,
			Quantity:     qty,
			EntryPrice:   price,
			Margin:       marginShare,
			OpenedAt:     now,
			UpdatedAt:    now,
		}
		return decimal.Zero
	}

	if pos.Direction == dir {
		totalCost := pos.EntryPrice.Mul(pos.Quantity).Add(price.Mul(qty))
		pos.Quantity = pos.Quantity.Add(qty)
		pos.EntryPrice = totalCost.Div(pos.Quantity)
		pos.Margin = pos.Margin.Add(marginShare)
		pos.UpdatedAt = now
		return decimal.Zero
	}

	// Reducing or reversing
	closeQty := decimal.Min(qty, pos.Quantity)
	pnl := price.Sub(pos.EntryPrice).Mul(closeQty)
	if pos.Direction == derivative.DirectionShort {
		pnl = pnl.Neg()
	}
	released := pos.Margin.Mul(closeQty).Div(pos.Quantity)
	refund := marginShare.Mul(closeQty).Div(qty)
	e.account.Balance = e.account.Balance.Add(released).Add(refund).Add(pnl)

	pos.RealizedPnl = pos.RealizedPnl.Add(pnl)
	pos.Margin = pos.Margin.Sub(released)
	pos.Quantity = pos.Quantity.Sub(closeQty)
	pos.UpdatedAt = now

	if reverse := qty.Sub(closeQty); reverse.IsPositive() {
		pos.Direction = dir
		pos.Quantity = reverse
		pos.EntryPrice = price
		pos.Margin = marginShare.Sub(refund)
		pos.OpenedAt = now
	} else if pos.Quantity.IsZero() {
		delete(e.account.Positions, key)
	}
	return pnl
}

func (e *Engine) notifyOrder(order *Order) {
	if e.onOrder != nil {
		e.onOrder(order)
	}
}

func positionKey(subaccountID, marketID string) string {
	return subaccountID + "/" + marketID
}

// decodeOrder converts the 18-decimal wire strings back to chain-unit
// prices and human quantities.
func decodeOrder(tx *derivative.OrderTx) (*Order, error) {
	msg := tx.Order
	if !msg.OrderType.Valid() {
		return nil, fmt.Errorf("invalid order type %d", int(msg.OrderType))
	}

	parse := func(field, s string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid %s %q", field, s)
		}
		return d.Shift(-derivative.ChainDecimals), nil
	}

	price, err := parse("price", msg.Price)
	if err != nil {
		return nil, err
	}
	qty, err := parse("quantity", msg.Quantity)
	if err != nil {
		return nil, err
	}
	margin, err := parse("margin", msg.Margin)
	if err != nil {
		return nil, err
	}
	trigger, err := parse("trigger_price", msg.TriggerPrice)
	if err != nil {
		return nil, err
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("quantity must be positive")
	}

	return &Order{
		Cid:          msg.Cid,
		IsMarket:     tx.TypeURL == derivative.MsgTypeMarketOrder,
		MarketID:     msg.MarketID,
		SubaccountID: msg.SubaccountID,
		OrderType:    msg.OrderType,
		Price:        price,
		TriggerPrice: trigger,
		Quantity:     qty,
		Margin:       margin,
		Status:       OrderStatusOpen,
	}, nil
}
