package eth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// RelayCredentials holds the API key pair issued by a broadcast relay.
type RelayCredentials struct {
	APIKey string `json:"apiKey" mapstructure:"api_key"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// HMACSigner signs relay requests using HMAC-SHA256.
type HMACSigner struct {
	creds *RelayCredentials
}

// NewHMACSigner creates a new HMAC signer with the given credentials.
func NewHMACSigner(creds *RelayCredentials) *HMACSigner {
	return &HMACSigner{creds: creds}
}

// SignRequest signs a relay request and returns the headers to attach.
// The signed message is timestamp + method + path + body.
func (s *HMACSigner) SignRequest(timestamp, method, path string, body []byte, sender string) (map[string]string, error) {
	message := timestamp + method + path
	if len(body) > 0 {
		message += string(body)
	}

	secret, err := base64.URLEncoding.DecodeString(s.creds.Secret)
	if err != nil {
		secret, err = base64.StdEncoding.DecodeString(s.creds.Secret)
		if err != nil {
			return nil, fmt.Errorf("decode secret: %w", err)
		}
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	signature := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		HeaderRelayKey:       s.creds.APIKey,
		HeaderRelaySignature: signature,
		HeaderRelayTimestamp: timestamp,
		HeaderRelaySender:    sender,
	}, nil
}
