// agentd runs the Injective derivative trading agent: an HTTP/WebSocket
// daemon exposing the order tools, plus one-shot commands for placing
// orders and reading positions from the shell.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/phenomenon0/injective-agents/core"
	"github.com/phenomenon0/injective-agents/internal/config"
	"github.com/phenomenon0/injective-agents/pkg/logger"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	netFlag  string
	paperOn  bool
	logLevel string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentd",
		Short:         "Injective derivative trading agent",
		Long:          `Builds, risk-checks and broadcasts Injective derivative orders, live or against a paper exchange.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	root.PersistentFlags().StringVar(&netFlag, "network", "", "MAINNET or TESTNET (overrides config)")
	root.PersistentFlags().BoolVar(&paperOn, "paper", false, "trade against the paper exchange (overrides config)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	root.AddCommand(newServeCmd(), newOrderCmd(), newPositionsCmd(), newToolsCmd(), newCallCmd())
	return root
}

// setup loads config, applies flag overrides and builds the app. One-shot
// commands log to stderr so stdout carries only the JSON result.
func setup(cmd *cobra.Command, console io.Writer) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if netFlag != "" {
		cfg.Network = strings.ToUpper(netFlag)
	}
	if cmd.Flags().Changed("paper") {
		cfg.Paper.Enabled = paperOn
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.NewWithConsole(cfg.Logging, console)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, log)
}

func newServeCmd() *cobra.Command {
	var tick time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, os.Stdout)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), tick)
		},
	}
	cmd.Flags().DurationVar(&tick, "paper-tick", 5*time.Second, "how often resting paper orders are re-priced")
	return cmd
}

func (a *app) serve(parent context.Context, tick time.Duration) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.checkJurisdiction(ctx); err != nil {
		return err
	}

	go a.hub.Run(ctx)
	go a.runPaperTicks(ctx, tick)

	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      a.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type orderFlags struct {
	ticker       string
	marketID     string
	subaccount   string
	orderType    string
	quantity     string
	leverage     string
	margin       string
	triggerPrice string
}

func (f *orderFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ticker, "ticker", "", `market ticker, e.g. "BTC/USDT PERP"`)
	cmd.Flags().StringVar(&f.marketID, "market-id", "", "market id (wins over --ticker)")
	cmd.Flags().StringVar(&f.subaccount, "subaccount", "", "subaccount index")
	cmd.Flags().StringVar(&f.orderType, "type", "", "order type: 1-8 or BUY, SELL, STOP_BUY, STOP_SELL, TAKE_BUY, TAKE_SELL, BUY_PO, SELL_PO")
	cmd.Flags().StringVar(&f.quantity, "quantity", "", "quantity in base asset units")
	cmd.Flags().StringVar(&f.leverage, "leverage", "", "leverage (default 1)")
	cmd.Flags().StringVar(&f.margin, "margin", "", "explicit margin in quote base units (1000000 = 1 USDT)")
	cmd.Flags().StringVar(&f.triggerPrice, "trigger-price", "", "trigger price for conditional orders")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("quantity")
}

func (f *orderFlags) input() map[string]any {
	in := map[string]any{
		"order_type": f.orderType,
		"quantity":   f.quantity,
	}
	setIf(in, "ticker", f.ticker)
	setIf(in, "market_id", f.marketID)
	setIf(in, "subaccount_index", f.subaccount)
	setIf(in, "leverage", f.leverage)
	setIf(in, "margin", f.margin)
	setIf(in, "trigger_price", f.triggerPrice)
	return in
}

func newOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place a derivative order",
	}

	var market orderFlags
	var slippage string
	marketCmd := &cobra.Command{
		Use:   "market",
		Short: "Place a market order at the slippage-bounded worst price",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := market.input()
			setIf(in, "slippage", slippage)
			return runTool(cmd, "injective_create_derivative_market_order", in)
		},
	}
	market.bind(marketCmd)
	marketCmd.Flags().StringVar(&slippage, "slippage", "", "slippage tolerance in percent (default 0.5)")

	var limit orderFlags
	var price string
	limitCmd := &cobra.Command{
		Use:   "limit",
		Short: "Place a limit order",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := limit.input()
			in["price"] = price
			return runTool(cmd, "injective_create_derivative_limit_order", in)
		},
	}
	limit.bind(limitCmd)
	limitCmd.Flags().StringVar(&price, "price", "", "limit price in quote units")
	_ = limitCmd.MarkFlagRequired("price")

	cmd.AddCommand(marketCmd, limitCmd)
	return cmd
}

func newPositionsCmd() *cobra.Command {
	var (
		tickers    []string
		direction  string
		subaccount string
	)

	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show open positions with margin and PnL",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := map[string]any{}
			if len(tickers) > 0 {
				in["tickers"] = tickers
			}
			setIf(in, "direction", direction)
			setIf(in, "subaccount_index", subaccount)
			return runTool(cmd, "injective_fetch_positions", in)
		},
	}
	cmd.Flags().StringSliceVar(&tickers, "ticker", nil, "filter by ticker (repeatable)")
	cmd.Flags().StringVar(&direction, "direction", "", "long or short")
	cmd.Flags().StringVar(&subaccount, "subaccount", "", "subaccount index (default: the wallet's default subaccount)")
	return cmd
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the registered agent tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, os.Stderr)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.registry.Tools())
		},
	}
}

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json-input]",
		Short: "Invoke any registered tool with a JSON input",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := json.RawMessage("{}")
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("input is not valid JSON")
				}
				input = json.RawMessage(args[1])
			}
			return invoke(cmd, args[0], input)
		},
	}
}

func runTool(cmd *cobra.Command, name string, input map[string]any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return invoke(cmd, name, raw)
}

func invoke(cmd *cobra.Command, name string, input json.RawMessage) error {
	a, err := setup(cmd, os.Stderr)
	if err != nil {
		return err
	}
	input = withNetwork(input, a.net.String())

	res := a.registry.Invoke(cmd.Context(), core.NewToolRequest(name, input))
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Failed() {
		a.logger.WithFields(logrus.Fields{"tool": name, "status": res.Status}).Error(res.Error)
		return fmt.Errorf("%s %s", name, res.Status)
	}
	return nil
}

// withNetwork defaults a JSON object input to the configured network.
func withNetwork(input json.RawMessage, net string) json.RawMessage {
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil || m == nil {
		return input
	}
	if _, ok := m["network"]; ok {
		return input
	}
	m["network"] = net
	out, err := json.Marshal(m)
	if err != nil {
		return input
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setIf(m map[string]any, key, val string) {
	if val != "" {
		m[key] = val
	}
}
