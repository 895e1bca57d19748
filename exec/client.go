package exec

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POLYMARKET EXECUTION CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// FOK orders on the Polymarket CLOB:
//   - order struct signed with EIP-712 against the CTF Exchange domain
//   - L2 request auth with HMAC-SHA256 over timestamp+method+path+body
//   - submissions throttled by a token bucket
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	PolymarketCLOB = "https://clob.polymarket.com"

	polygonChainID = 137
	orderTTL       = time.Hour
)

var (
	ctfExchange  = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	clobOperator = common.HexToAddress("0xF629eBBa8e4f121BDec77B2f9ED0e9fa28acbdc0")

	domainTypeHash = crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	orderTypeHash  = crypto.Keccak256([]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"))
	orderDomain    = crypto.Keccak256(
		domainTypeHash,
		crypto.Keccak256([]byte("Polymarket CTF Exchange")),
		crypto.Keccak256([]byte("1")),
		word(big.NewInt(polygonChainID)),
		common.LeftPadBytes(ctfExchange.Bytes(), 32),
	)
)

// ErrNoCredentials is returned when live trading lacks a key or API creds
var ErrNoCredentials = errors.New("exec: live client needs ETH_PRIVATE_KEY and POLY_API_* credentials")

// ClientConfig holds the live client settings; secrets come from env only
type ClientConfig struct {
	BaseURL       string
	PrivateKey    string
	FunderAddress string
	SignatureType int
	APIKey        string
	APISecret     string
	Passphrase    string
	OrdersPerSec  float64
	Timeout       time.Duration
}

type Client struct {
	baseURL    string
	privateKey *ecdsa.PrivateKey
	signer     common.Address
	maker      common.Address
	sigType    uint8
	apiKey     string
	apiSecret  []byte
	passphrase string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu    sync.Mutex
	nonce int64
}

// NewClient creates the live execution client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.PrivateKey == "" || cfg.APIKey == "" || cfg.APISecret == "" || cfg.Passphrase == "" {
		return nil, ErrNoCredentials
	}
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	secret, err := base64.URLEncoding.DecodeString(cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("invalid api secret: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = PolymarketCLOB
	}
	if cfg.OrdersPerSec <= 0 {
		cfg.OrdersPerSec = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	signer := crypto.PubkeyToAddress(pk.PublicKey)
	maker := signer
	if cfg.FunderAddress != "" {
		if !common.IsHexAddress(cfg.FunderAddress) {
			return nil, fmt.Errorf("invalid funder address %q", cfg.FunderAddress)
		}
		maker = common.HexToAddress(cfg.FunderAddress)
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		privateKey: pk,
		signer:     signer,
		maker:      maker,
		sigType:    uint8(cfg.SignatureType),
		apiKey:     cfg.APIKey,
		apiSecret:  secret,
		passphrase: cfg.Passphrase,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.OrdersPerSec), 1),
	}

	log.Info().
		Str("mode", "LIVE").
		Str("signer", c.signer.Hex()).
		Str("maker", c.maker.Hex()).
		Msg("🚀 Execution client initialized")

	return c, nil
}

// Address returns the signing wallet
func (c *Client) Address() string {
	return c.signer.Hex()
}

// ═══════════════════════════════════════════════════════════════════════════════
// ORDERS
// ═══════════════════════════════════════════════════════════════════════════════

type order struct {
	salt, tokenID            *big.Int
	makerAmount, takerAmount *big.Int
	expiration, nonce, fee   *big.Int
	maker, signer, taker     common.Address
	side                     uint8
	sigType                  uint8
}

type signedOrder struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType uint8  `json:"signatureType"`
	Signature     string `json:"signature"`
}

type orderEnvelope struct {
	Order     signedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

type orderResponse struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"orderID"`
	ErrorMsg string `json:"errorMsg"`
	Status   string `json:"status"`
}

// Submit places one FOK order
func (c *Client) Submit(ctx context.Context, req OrderRequest) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	o, err := c.buildOrder(req, time.Now())
	if err != nil {
		return Rejected{Reason: err.Error()}, nil
	}
	sig, err := c.sign(o)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	body, err := json.Marshal(orderEnvelope{
		Order:     c.encode(o, req.Side, sig),
		Owner:     c.apiKey,
		OrderType: "FOK",
	})
	if err != nil {
		return nil, err
	}

	status, resp, err := c.post(ctx, "/order", body)
	if err != nil {
		return nil, err
	}

	var result orderResponse
	if jerr := json.Unmarshal(resp, &result); jerr != nil && status < 400 {
		return nil, fmt.Errorf("parse response: %w", jerr)
	}

	switch {
	case status >= 500:
		return nil, fmt.Errorf("HTTP %d: %s", status, string(resp))
	case status >= 400:
		reason := result.ErrorMsg
		if reason == "" {
			reason = fmt.Sprintf("HTTP %d: %s", status, string(resp))
		}
		log.Warn().Str("order", req.String()).Str("reason", reason).Msg("⚠️ Order rejected")
		return Rejected{Reason: reason}, nil
	case !result.Success:
		log.Warn().Str("order", req.String()).Str("reason", result.ErrorMsg).Msg("⚠️ Order rejected")
		return Rejected{Reason: result.ErrorMsg}, nil
	}

	log.Info().
		Str("order_id", result.OrderID).
		Str("status", result.Status).
		Str("order", req.String()).
		Msg("✅ Order filled")

	return filledFor(req, result.OrderID), nil
}

// usdc scales a float amount to the venue's 6-decimal integer units
func usdc(v float64) *big.Int {
	return decimal.NewFromFloat(v).Shift(6).Truncate(0).BigInt()
}

func (c *Client) buildOrder(req OrderRequest, now time.Time) (order, error) {
	tokenID, ok := new(big.Int).SetString(req.TokenID, 10)
	if !ok {
		return order{}, fmt.Errorf("invalid token id %q", req.TokenID)
	}
	if req.Price <= 0 || req.Price >= 1 {
		return order{}, fmt.Errorf("limit price %.4f out of range", req.Price)
	}
	salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return order{}, err
	}

	c.mu.Lock()
	c.nonce++
	nonce := c.nonce
	c.mu.Unlock()

	o := order{
		salt:       salt,
		tokenID:    tokenID,
		expiration: big.NewInt(now.Add(orderTTL).Unix()),
		nonce:      big.NewInt(nonce),
		fee:        big.NewInt(0),
		maker:      c.maker,
		signer:     c.signer,
		taker:      clobOperator,
		sigType:    c.sigType,
	}
	switch req.Side {
	case types.Buy:
		// maker gives USDC, takes shares
		o.makerAmount = usdc(req.Amount)
		o.takerAmount = usdc(req.Amount / req.Price)
	case types.Sell:
		o.side = 1
		o.makerAmount = usdc(req.Shares)
		o.takerAmount = usdc(req.Shares * req.Price)
	default:
		return order{}, fmt.Errorf("unknown side %q", req.Side)
	}
	if o.makerAmount.Sign() <= 0 || o.takerAmount.Sign() <= 0 {
		return order{}, fmt.Errorf("order amounts round to zero")
	}
	return o, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNING
// ═══════════════════════════════════════════════════════════════════════════════

func word(v *big.Int) []byte {
	return math.U256Bytes(new(big.Int).Set(v))
}

func address(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

func orderDigest(o order) []byte {
	structHash := crypto.Keccak256(
		orderTypeHash,
		word(o.salt),
		address(o.maker),
		address(o.signer),
		address(o.taker),
		word(o.tokenID),
		word(o.makerAmount),
		word(o.takerAmount),
		word(o.expiration),
		word(o.nonce),
		word(o.fee),
		word(big.NewInt(int64(o.side))),
		word(big.NewInt(int64(o.sigType))),
	)
	return crypto.Keccak256([]byte{0x19, 0x01}, orderDomain, structHash)
}

func (c *Client) sign(o order) ([]byte, error) {
	sig, err := crypto.Sign(orderDigest(o), c.privateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func (c *Client) encode(o order, side types.Side, sig []byte) signedOrder {
	return signedOrder{
		Salt:          o.salt.String(),
		Maker:         o.maker.Hex(),
		Signer:        o.signer.Hex(),
		Taker:         o.taker.Hex(),
		TokenID:       o.tokenID.String(),
		MakerAmount:   o.makerAmount.String(),
		TakerAmount:   o.takerAmount.String(),
		Expiration:    o.expiration.String(),
		Nonce:         o.nonce.String(),
		FeeRateBps:    o.fee.String(),
		Side:          string(side),
		SignatureType: o.sigType,
		Signature:     hexutil.Encode(sig),
	}
}

// l2Signature is the HMAC the CLOB expects on authenticated requests
func l2Signature(secret []byte, timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) addHeaders(req *http.Request, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	req.Header.Set("POLY_ADDRESS", c.signer.Hex())
	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_SIGNATURE", l2Signature(c.apiSecret, timestamp, req.Method, req.URL.Path, body))
}

func (c *Client) post(ctx context.Context, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req, body)
	return c.doRequest(req)
}

func (c *Client) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	c.addHeaders(req, nil)
	return c.doRequest(req)
}

func (c *Client) doRequest(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// GetBalance returns the collateral (USDC) balance
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	status, resp, err := c.get(ctx, "/balance-allowance?asset_type=COLLATERAL")
	if err != nil {
		return decimal.Zero, err
	}
	if status >= 400 {
		return decimal.Zero, fmt.Errorf("HTTP %d: %s", status, string(resp))
	}

	var result struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(result.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance %q: %w", result.Balance, err)
	}
	return balance.Shift(-6), nil
}
