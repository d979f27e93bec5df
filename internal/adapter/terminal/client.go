// client.go implements the terminal bootstrap calls over the gateway's
// reference-data HTTP endpoint.
package terminal

import (
	"context"
	"fmt"
	"net/http"

	"marketfeed/pkg/types"
)

type refdataRequest struct {
	Securities []string `json:"securities"`
	Fields     []string `json:"fields"`
}

type chainResponse struct {
	Data []struct {
		Security string `json:"security"`
		Fields   struct {
			OptChain []string `json:"OPT_CHAIN"`
		} `json:"fields"`
	} `json:"data"`
}

type priceResponse struct {
	Data []struct {
		Security string `json:"security"`
		Fields   struct {
			LastPrice float64 `json:"LAST_PRICE"`
		} `json:"fields"`
	} `json:"data"`
}

// OptionChain requests the option chain for the tab's root security and
// returns the entries that parse to canonical form. Descriptions that match
// neither vendor shape are skipped, never surfaced.
func (a *Adapter) OptionChain(ctx context.Context, cfg types.TabConfig) ([]types.InstrumentRecord, error) {
	if err := a.rl.Wait(ctx); err != nil {
		return nil, err
	}

	root := a.toVendor(cfg.BaseSymbol)
	if root == "" {
		return nil, fmt.Errorf("no vendor form for %q", cfg.BaseSymbol)
	}

	var result chainResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(refdataRequest{Securities: []string{root}, Fields: []string{"OPT_CHAIN"}}).
		SetResult(&result).
		Post("/refdata")
	if err != nil {
		return nil, fmt.Errorf("chain request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("chain request: status %d: %s", resp.StatusCode(), resp.String())
	}

	var records []types.InstrumentRecord
	for _, sec := range result.Data {
		for _, desc := range sec.Fields.OptChain {
			if rec := a.parseVendor(desc); rec != nil {
				records = append(records, *rec)
			}
		}
	}
	return records, nil
}

// LatestPrice fetches LAST_PRICE for any canonical name, converting to the
// vendor description internally. Returns 0 on any failure.
func (a *Adapter) LatestPrice(ctx context.Context, name string) float64 {
	if err := a.rl.Wait(ctx); err != nil {
		return 0
	}

	vendor := a.toVendor(name)
	if vendor == "" {
		return 0
	}

	var result priceResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(refdataRequest{Securities: []string{vendor}, Fields: []string{"LAST_PRICE"}}).
		SetResult(&result).
		Post("/refdata")
	if err != nil || resp.StatusCode() != http.StatusOK {
		return 0
	}

	if len(result.Data) == 0 {
		return 0
	}
	return result.Data[0].Fields.LastPrice
}
