// Package etherscan resolves verified contract names through the Etherscan
// multichain API.
package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	// DefaultURL is the multichain API endpoint.
	DefaultURL = "https://api.etherscan.io/v2/api"

	defaultCacheSize = 4096
	defaultRate      = 5 // free tier calls per second
	defaultTimeout   = 10 * time.Second
)

var errNotVerified = errors.New("contract not verified")

type cacheKey struct {
	chainID uint64
	addr    common.Address
}

// Client looks up contract names. Answers, including misses, are cached for
// the lifetime of the client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	names   *lru.Cache[cacheKey, string]
}

// NewClient creates a client for the given API key.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	names, _ := lru.New[cacheKey, string](defaultCacheSize)
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(defaultRate, defaultRate),
		names:   names,
	}
}

type sourceResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type sourceEntry struct {
	ContractName   string `json:"ContractName"`
	Proxy          string `json:"Proxy"`
	Implementation string `json:"Implementation"`
}

// ContractName returns the verified name of a contract. Lookup failures are
// logged and reported as unknown.
func (c *Client) ContractName(ctx context.Context, chainID uint64, addr common.Address) (string, bool) {
	key := cacheKey{chainID, addr}
	if name, ok := c.names.Get(key); ok {
		return name, name != ""
	}
	name, err := c.fetchName(ctx, chainID, addr)
	switch {
	case errors.Is(err, errNotVerified):
		c.names.Add(key, "")
		return "", false
	case err != nil:
		log.Debug("Contract name lookup failed", "chain", chainID, "addr", addr, "err", err)
		return "", false
	}
	c.names.Add(key, name)
	return name, true
}

func (c *Client) fetchName(ctx context.Context, chainID uint64, addr common.Address) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	query := url.Values{
		"chainid": {strconv.FormatUint(chainID, 10)},
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {addr.Hex()},
		"apikey":  {c.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	var body sourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Status != "1" {
		// On failure the result is a string describing the problem.
		var reason string
		_ = json.Unmarshal(body.Result, &reason)
		return "", fmt.Errorf("%s: %s", body.Message, reason)
	}
	var entries []sourceEntry
	if err := json.Unmarshal(body.Result, &entries); err != nil {
		return "", err
	}
	if len(entries) == 0 || entries[0].ContractName == "" {
		return "", errNotVerified
	}
	return entries[0].ContractName, nil
}
