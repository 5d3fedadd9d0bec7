package broadcast

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"strconv"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/eth"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// AuthType selects how requests to the relay are authenticated.
type AuthType string

const (
	AuthTypeNone AuthType = "none"
	AuthTypeHMAC AuthType = "hmac"
	AuthTypeJWT  AuthType = "jwt"
)

// Authenticator adds credentials to a relay request.
type Authenticator interface {
	AddAuthHeaders(req *resty.Request, method, path string, body []byte, sender string) error
}

// HMACAuthenticator signs each request with the relay API secret.
type HMACAuthenticator struct {
	signer *eth.HMACSigner
	now    func() time.Time
}

// NewHMACAuthenticator creates an authenticator from an API key pair.
func NewHMACAuthenticator(creds *eth.RelayCredentials) (*HMACAuthenticator, error) {
	if creds == nil || creds.APIKey == "" || creds.Secret == "" {
		return nil, errors.New("relay api key and secret are required")
	}
	return &HMACAuthenticator{signer: eth.NewHMACSigner(creds), now: time.Now}, nil
}

func (h *HMACAuthenticator) AddAuthHeaders(req *resty.Request, method, path string, body []byte, sender string) error {
	ts := strconv.FormatInt(h.now().Unix(), 10)
	headers, err := h.signer.SignRequest(ts, method, path, body, sender)
	if err != nil {
		return errors.Wrap(err, "sign relay request")
	}
	req.SetHeaders(headers)
	return nil
}

// JWTAuthenticator sends a short-lived ES256 bearer token per request.
type JWTAuthenticator struct {
	keyName    string
	privateKey *ecdsa.PrivateKey
	now        func() time.Time
}

// NewJWTAuthenticator parses a PEM encoded EC key (SEC1 or PKCS8).
func NewJWTAuthenticator(keyName, privateKeyPEM string) (*JWTAuthenticator, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing the private key")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "parse EC private key")
		}
		var ok bool
		privateKey, ok = key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an EC private key")
		}
	}

	return &JWTAuthenticator{keyName: keyName, privateKey: privateKey, now: time.Now}, nil
}

func (j *JWTAuthenticator) AddAuthHeaders(req *resty.Request, method, path string, _ []byte, sender string) error {
	token, err := j.token(method, path, sender)
	if err != nil {
		return err
	}
	req.SetAuthToken(token)
	return nil
}

func (j *JWTAuthenticator) token(method, path, sender string) (string, error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}

	now := j.now()
	claims := jwt.MapClaims{
		"sub":   j.keyName,
		"iss":   "injective-agents",
		"nbf":   now.Unix(),
		"exp":   now.Add(2 * time.Minute).Unix(),
		"uri":   method + " " + path,
		"addr":  sender,
		"nonce": nonce,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = j.keyName

	signed, err := token.SignedString(j.privateKey)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}
	return hex.EncodeToString(b), nil
}
