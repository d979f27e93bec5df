// client.go implements the Deribit REST bootstrap calls.
//
// Two synchronous operations back the manager's bootstrap phase:
//   - OptionChain: GET /public/get_instruments — the live option universe
//     for a currency, filtered client-side by settlement variant
//   - LatestPrice: GET /public/ticker — index price with last-trade fallback
//
// Calls are paced by a shared token bucket and bounded by the client
// timeout. There are no retries here; the manager re-invokes on its next
// bootstrap cycle.
package deribit

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"marketfeed/pkg/types"
)

type instrumentResult struct {
	InstrumentName      string `json:"instrument_name"`
	ExpirationTimestamp int64  `json:"expiration_timestamp"`
	BaseCurrency        string `json:"base_currency"`
	QuoteCurrency       string `json:"quote_currency"`
}

type instrumentsResponse struct {
	Result []instrumentResult `json:"result"`
}

type tickerResult struct {
	IndexPrice float64 `json:"index_price"`
	LastPrice  float64 `json:"last_price"`
}

type tickerResponse struct {
	Result tickerResult `json:"result"`
}

// OptionChain fetches the non-expired option universe for the tab's base
// symbol and keeps only the settlement variant the tab asks for: linear
// names carry the {base}_USDC- prefix, inverse names start with {base}- and
// never contain _USDC. Deribit's option names already match the canonical
// grammar, so records pass through without reformatting.
func (a *Adapter) OptionChain(ctx context.Context, cfg types.TabConfig) ([]types.InstrumentRecord, error) {
	if err := a.rl.Wait(ctx); err != nil {
		return nil, err
	}

	// Linear USD-settled options live under the USDC currency on the API.
	apiCurrency := cfg.BaseSymbol
	if cfg.Settlement == types.SettlementUSD {
		apiCurrency = "USDC"
	}

	var result instrumentsResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"currency": apiCurrency,
			"kind":     "option",
			"expired":  "false",
		}).
		SetResult(&result).
		Get("/public/get_instruments")
	if err != nil {
		return nil, fmt.Errorf("get instruments: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get instruments: status %d: %s", resp.StatusCode(), resp.String())
	}

	linearPrefix := cfg.BaseSymbol + "_USDC-"
	inversePrefix := cfg.BaseSymbol + "-"

	records := make([]types.InstrumentRecord, 0, len(result.Result))
	for _, inst := range result.Result {
		nm := inst.InstrumentName
		switch cfg.Settlement {
		case types.SettlementUSD:
			if !strings.HasPrefix(nm, linearPrefix) {
				continue
			}
		default:
			if !strings.HasPrefix(nm, inversePrefix) || strings.Contains(nm, "_USDC") {
				continue
			}
		}
		records = append(records, types.InstrumentRecord{
			InstrumentName:      nm,
			ExpirationTimestamp: inst.ExpirationTimestamp,
			BaseCurrency:        inst.BaseCurrency,
			QuoteCurrency:       inst.QuoteCurrency,
		})
	}
	return records, nil
}

// LatestPrice fetches a single ticker and returns its index price, falling
// back to the last-trade price. Returns 0 on any failure.
func (a *Adapter) LatestPrice(ctx context.Context, name string) float64 {
	if err := a.rl.Wait(ctx); err != nil {
		return 0
	}

	target := name
	if vendor, ok := a.sheet.Exact[name]; ok {
		target = vendor
	}

	var result tickerResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("instrument_name", target).
		SetResult(&result).
		Get("/public/ticker")
	if err != nil || resp.StatusCode() != http.StatusOK {
		return 0
	}

	if result.Result.IndexPrice > 0 {
		return result.Result.IndexPrice
	}
	return result.Result.LastPrice
}
