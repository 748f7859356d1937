// Package chainsource implements ChainSource (C1): the client contract
// against a remote blindbit-style indexer, plus an HTTP implementation of
// it.
//
// The teacher depends on a client of this exact shape
// (networking.BlindBitConnector, implemented by
// github.com/setavenger/blindbit-lib/networking.ClientBlindBit) but that
// package lives in a dependency this repo deliberately drops (see
// DESIGN.md): it is the pre-built version of the very component spec.md
// asks to be implemented. The interface below is grounded on the shape
// that dependency's exported methods and JSON wire format take, as
// observed from tests/mockclient.go (GetChainTip, GetFilter, GetTweaks,
// GetUTXOs, GetSpentOutpointsIndex and their JSON field names) and
// spec.md §6's endpoint table; the HTTP client is a fresh implementation
// against `net/http`/`encoding/json`, the same transport primitives the
// teacher's own client is built on.
package chainsource

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/setavenger/blindbit-scan-engine/internal/scanerr"
	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

// StorageMode reports which tweak-serving strategy the indexer advertises
// via GET info, per spec.md §6's storage-mode matrix.
type StorageMode string

const (
	FullBasic            StorageMode = "full_basic"
	DustFilter           StorageMode = "dust_filter"
	DustFilterCutThrough StorageMode = "dust_filter_cut_through"
)

// Info is the server capability object returned by GET info.
type Info struct {
	StorageMode StorageMode `json:"storage_mode"`
	Network     string      `json:"network"`
}

// ChainSource is the lower-level quartet plus chain-tip contract spec.md
// §4.7 allows in place of a composed block_data_stream: the Fetcher
// composes these per height itself.
type ChainSource interface {
	BlockHeight(ctx context.Context) (uint32, error)
	Tweaks(ctx context.Context, height uint32, dustLimit *uint64) ([]scantypes.Tweak, error)
	TweakIndex(ctx context.Context, height uint32, dustLimit *uint64) ([]scantypes.Tweak, error)
	FilterNewUTXOs(ctx context.Context, height uint32) (scantypes.BlockHash, scantypes.FilterBytes, error)
	FilterSpent(ctx context.Context, height uint32) (scantypes.BlockHash, scantypes.FilterBytes, error)
	Utxos(ctx context.Context, height uint32) ([]scantypes.Utxo, error)
	SpentIndex(ctx context.Context, height uint32) ([][8]byte, error)
	ForwardTx(ctx context.Context, txHex string) (scantypes.Txid, error)
	Info(ctx context.Context) (Info, error)
}

// HTTPClient implements ChainSource against a blindbit-style indexer's
// REST API.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPClient builds a client with a default 30s per-request timeout
// and a keep-alive pool sized for the Fetcher's default concurrency
// (P=200), per spec.md §5's resource policy.
func NewHTTPClient(baseURL string) *HTTPClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 200
	transport.MaxIdleConnsPerHost = 200

	return &HTTPClient{
		BaseURL: baseURL,
		HTTP: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// advanceGenesis implements the observed indexer behavior of rejecting
// height 0 (see DESIGN.md's Open Question resolution): the Fetcher and
// Scanner pass heights through unchanged, so a range starting at 0 reaches
// this client with height 0, and every per-height request advances it to 1.
func advanceGenesis(height uint32) uint32 {
	if height == 0 {
		return 1
	}
	return height
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", scanerr.ErrTransport, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", scanerr.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s returned %d", scanerr.ErrTransport, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", scanerr.ErrDecode, err)
	}
	return nil
}

func (c *HTTPClient) BlockHeight(ctx context.Context) (uint32, error) {
	var resp struct {
		BlockHeight uint32 `json:"block_height"`
	}
	if err := c.get(ctx, "block-height", nil, &resp); err != nil {
		return 0, err
	}
	return resp.BlockHeight, nil
}

func (c *HTTPClient) fetchTweaks(ctx context.Context, endpoint string, height uint32, dustLimit *uint64) ([]scantypes.Tweak, error) {
	height = advanceGenesis(height)
	q := url.Values{}
	if dustLimit != nil {
		q.Set("dustLimit", strconv.FormatUint(*dustLimit, 10))
	}
	var hexTweaks []string
	if err := c.get(ctx, fmt.Sprintf("%s/%d", endpoint, height), q, &hexTweaks); err != nil {
		return nil, err
	}
	out := make([]scantypes.Tweak, 0, len(hexTweaks))
	for _, h := range hexTweaks {
		raw, err := hex.DecodeString(h)
		if err != nil || len(raw) != 33 {
			return nil, fmt.Errorf("%w: malformed tweak %q", scanerr.ErrDecode, h)
		}
		var t scantypes.Tweak
		copy(t[:], raw)
		out = append(out, t)
	}
	return out, nil
}

func (c *HTTPClient) Tweaks(ctx context.Context, height uint32, dustLimit *uint64) ([]scantypes.Tweak, error) {
	return c.fetchTweaks(ctx, "tweaks", height, dustLimit)
}

func (c *HTTPClient) TweakIndex(ctx context.Context, height uint32, dustLimit *uint64) ([]scantypes.Tweak, error) {
	return c.fetchTweaks(ctx, "tweak-index", height, dustLimit)
}

func (c *HTTPClient) fetchFilter(ctx context.Context, endpoint string, height uint32) (scantypes.BlockHash, scantypes.FilterBytes, error) {
	height = advanceGenesis(height)
	var resp struct {
		BlockHash string `json:"block_hash"`
		Data      string `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("%s/%d", endpoint, height), nil, &resp); err != nil {
		return scantypes.BlockHash{}, nil, err
	}
	hashBytes, err := hex.DecodeString(resp.BlockHash)
	if err != nil || len(hashBytes) != 32 {
		return scantypes.BlockHash{}, nil, fmt.Errorf("%w: malformed block_hash", scanerr.ErrDecode)
	}
	var bh scantypes.BlockHash
	copy(bh[:], hashBytes)

	data, err := hex.DecodeString(resp.Data)
	if err != nil {
		return scantypes.BlockHash{}, nil, fmt.Errorf("%w: malformed filter data", scanerr.ErrDecode)
	}
	return bh, data, nil
}

func (c *HTTPClient) FilterNewUTXOs(ctx context.Context, height uint32) (scantypes.BlockHash, scantypes.FilterBytes, error) {
	return c.fetchFilter(ctx, "filter/new-utxos", height)
}

func (c *HTTPClient) FilterSpent(ctx context.Context, height uint32) (scantypes.BlockHash, scantypes.FilterBytes, error) {
	return c.fetchFilter(ctx, "filter/spent", height)
}

func (c *HTTPClient) Utxos(ctx context.Context, height uint32) ([]scantypes.Utxo, error) {
	height = advanceGenesis(height)
	var served []struct {
		Txid         string `json:"txid"`
		Vout         uint32 `json:"vout"`
		Amount       uint64 `json:"value"`
		ScriptPubKey string `json:"scriptpubkey"`
		Spent        bool   `json:"spent"`
	}
	if err := c.get(ctx, fmt.Sprintf("utxos/%d", height), nil, &served); err != nil {
		return nil, err
	}

	out := make([]scantypes.Utxo, 0, len(served))
	for _, u := range served {
		txidBytes, err := hex.DecodeString(u.Txid)
		if err != nil || len(txidBytes) != 32 {
			return nil, fmt.Errorf("%w: malformed txid %q", scanerr.ErrDecode, u.Txid)
		}
		spkBytes, err := hex.DecodeString(u.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed scriptpubkey %q", scanerr.ErrDecode, u.ScriptPubKey)
		}
		var txid scantypes.Txid
		copy(txid[:], txidBytes)
		out = append(out, scantypes.Utxo{
			Txid:         txid,
			Vout:         u.Vout,
			Amount:       u.Amount,
			ScriptPubKey: spkBytes,
			Spent:        u.Spent,
		})
	}
	return out, nil
}

func (c *HTTPClient) SpentIndex(ctx context.Context, height uint32) ([][8]byte, error) {
	height = advanceGenesis(height)
	var resp struct {
		Data []string `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("spent-index/%d", height), nil, &resp); err != nil {
		return nil, err
	}
	out := make([][8]byte, 0, len(resp.Data))
	for _, h := range resp.Data {
		raw, err := hex.DecodeString(h)
		if err != nil || len(raw) != 8 {
			return nil, fmt.Errorf("%w: malformed spent-index digest %q", scanerr.ErrDecode, h)
		}
		var d [8]byte
		copy(d[:], raw)
		out = append(out, d)
	}
	return out, nil
}

func (c *HTTPClient) ForwardTx(ctx context.Context, txHex string) (scantypes.Txid, error) {
	body, err := json.Marshal(struct {
		TxHex string `json:"tx_hex"`
	}{TxHex: txHex})
	if err != nil {
		return scantypes.Txid{}, fmt.Errorf("%w: %v", scanerr.ErrDecode, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"forward-tx", strings.NewReader(string(body)))
	if err != nil {
		return scantypes.Txid{}, fmt.Errorf("%w: %v", scanerr.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return scantypes.Txid{}, fmt.Errorf("%w: %v", scanerr.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return scantypes.Txid{}, fmt.Errorf("%w: forward-tx returned %d", scanerr.ErrTransport, resp.StatusCode)
	}

	var txidHex string
	if err := json.NewDecoder(resp.Body).Decode(&txidHex); err != nil {
		return scantypes.Txid{}, fmt.Errorf("%w: %v", scanerr.ErrDecode, err)
	}
	raw, err := hex.DecodeString(txidHex)
	if err != nil || len(raw) != 32 {
		return scantypes.Txid{}, fmt.Errorf("%w: malformed txid response", scanerr.ErrDecode)
	}
	var txid scantypes.Txid
	copy(txid[:], raw)
	return txid, nil
}

func (c *HTTPClient) Info(ctx context.Context) (Info, error) {
	var info Info
	if err := c.get(ctx, "info", nil, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}
