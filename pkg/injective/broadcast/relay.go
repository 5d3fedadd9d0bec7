// Package broadcast submits signed order transactions to a broadcast relay.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/eth"
	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	broadcastPath  = "/v1/broadcast"
	defaultTimeout = 30 * time.Second
)

// Request is the relay's broadcast body. Msg is the order transaction as
// signed; Signature covers exactly those bytes.
type Request struct {
	ChainID   string          `json:"chain_id"`
	Sender    string          `json:"sender"`
	MsgType   string          `json:"msg_type"`
	Msg       json.RawMessage `json:"msg"`
	PubKey    string          `json:"pub_key"`
	Signature string          `json:"signature"`
}

// Response is the relay's answer. A non-zero Code means the chain rejected the tx.
type Response struct {
	TxHash    string `json:"tx_hash"`
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace,omitempty"`
	RawLog    string `json:"raw_log"`
}

// Relay broadcasts order transactions for one chain.
type Relay struct {
	baseURL string
	chainID string
	http    *resty.Client
	auth    Authenticator
	logger  logrus.FieldLogger
}

// RelayOption configures the relay client.
type RelayOption func(*Relay)

// WithAuthenticator sets request authentication.
func WithAuthenticator(a Authenticator) RelayOption {
	return func(r *Relay) {
		r.auth = a
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) RelayOption {
	return func(r *Relay) {
		r.http = resty.NewWithClient(hc)
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) RelayOption {
	return func(r *Relay) {
		r.logger = l
	}
}

// NewRelay creates a relay client. Broadcasts are never retried.
func NewRelay(baseURL, chainID string, opts ...RelayOption) (*Relay, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("relay url is required")
	}
	if chainID == "" {
		return nil, errors.New("chain id is required")
	}

	r := &Relay{
		baseURL: baseURL,
		chainID: chainID,
		http:    resty.New(),
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.http.
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return r, nil
}

// ChainID returns the chain the relay signs for.
func (r *Relay) ChainID() string {
	return r.chainID
}

// Broadcast signs tx with wallet and submits it, returning the tx hash.
func (r *Relay) Broadcast(ctx context.Context, tx *derivative.OrderTx, wallet *eth.Wallet) (string, error) {
	body, err := NewRequest(r.chainID, tx, wallet)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", errors.Wrap(err, "marshal broadcast request")
	}

	req := r.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(raw).
		SetResult(&Response{}).
		ForceContentType("application/json")

	if r.auth != nil {
		if err := r.auth.AddAuthHeaders(req, http.MethodPost, broadcastPath, raw, body.Sender); err != nil {
			return "", errors.Wrap(err, "authenticate relay request")
		}
	}

	resp, err := req.Post(broadcastPath)
	if err != nil {
		return "", errors.Wrap(err, "POST "+broadcastPath)
	}
	if !resp.IsSuccess() {
		return "", errors.Errorf("relay returned status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	out, ok := resp.Result().(*Response)
	if !ok || out == nil {
		return "", errors.New("relay returned an empty response")
	}
	if out.Code != 0 {
		r.logger.WithFields(logrus.Fields{
			"code":      out.Code,
			"codespace": out.Codespace,
			"tx_hash":   out.TxHash,
		}).Warn("transaction rejected")
		return "", derivative.NewBroadcastError(out.RawLog, errors.Errorf("code %d", out.Code))
	}
	if out.TxHash == "" {
		return "", errors.New("relay returned no tx hash")
	}
	return out.TxHash, nil
}

// NewRequest serializes and signs tx for chainID.
func NewRequest(chainID string, tx *derivative.OrderTx, wallet *eth.Wallet) (*Request, error) {
	if tx == nil || wallet == nil {
		return nil, errors.New("transaction and wallet are required")
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return nil, errors.Wrap(err, "marshal order tx")
	}
	sig, err := eth.NewSigner(wallet).Sign(chainID, payload)
	if err != nil {
		return nil, err
	}

	return &Request{
		ChainID:   chainID,
		Sender:    tx.Sender,
		MsgType:   tx.TypeURL,
		Msg:       payload,
		PubKey:    wallet.PublicKeyHex(),
		Signature: sig,
	}, nil
}

// Verify checks that req's signature recovers to the account named in Sender.
func Verify(req *Request) error {
	addr, err := eth.RecoverSigner(req.ChainID, req.Msg, req.Signature)
	if err != nil {
		return err
	}
	signer, err := eth.InjectiveAddress(addr)
	if err != nil {
		return err
	}
	if signer != req.Sender {
		return errors.Errorf("signature from %s, want %s", signer, req.Sender)
	}
	return nil
}
