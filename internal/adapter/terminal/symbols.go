// symbols.go is the translation layer between canonical names and the
// terminal's security descriptions.
//
//	canonical: SPY-20FEB26-688-C
//	vendor:    SPY US 02/20/26 C688 Equity
//
// Translation is table-driven where the symbol sheet has directives and
// rule-driven otherwise. Vendor descriptions never cross the adapter
// boundary: everything handed to the manager is parsed to canonical form
// first, and anything unparseable is skipped.
package terminal

import (
	"regexp"
	"strings"
	"time"

	"marketfeed/pkg/types"
)

// Vendor security-description shapes.
//
//	option:     SPY US 02/20/26 C688 Equity  /  SPX US 02/20/26 P5000 Index
//	underlying: SPY US Equity  /  SPX Index  /  CL1 Comdty
var (
	optionRe     = regexp.MustCompile(`^(\w+)\s+\w+\s+(\d{1,2}/\d{1,2}/\d{2})\s+([CP])([\d.]+)\s+(Equity|Index)$`)
	underlyingRe = regexp.MustCompile(`^(\w+)\s+(?:\w+\s+)?(Equity|Index|Comdty)$`)
)

// Built-in directive defaults, used when no symbol sheet is present.
var (
	defaultIndexSymbols   = []string{"SPX", "NDX", "VIX", "RTY", "HSI", "NKY", "UKX", "CAC", "DAX", "SX5E"}
	defaultFuturePrefixes = []string{"ES", "NQ", "YM", "QR", "HI", "NK", "VG", "GX", "JB", "RX", "VX"}
)

// toVendor converts any canonical name to the vendor's security description.
// Returns "" when the name cannot be expressed; callers skip it.
func (a *Adapter) toVendor(name string) string {
	if name == "" {
		return ""
	}

	// Exact-map override wins over every rule.
	if v, ok := a.sheet.Exact[name]; ok {
		return v
	}

	// Canonical option form.
	if strings.Contains(name, "-") {
		return a.optionToVendor(name)
	}

	// International equity: 0700.HK -> "0700 HK Equity".
	if i := strings.LastIndex(name, "."); i > 0 && i < len(name)-1 {
		return name[:i] + " " + name[i+1:] + " Equity"
	}

	if !strings.Contains(name, " ") {
		if a.sheet.Index[name] {
			return name + " Index"
		}
		// Futures codes like ESU6: known prefix with a digit-final code.
		last := name[len(name)-1]
		if last >= '0' && last <= '9' {
			for prefix := range a.sheet.FuturePrefixes {
				if strings.HasPrefix(name, prefix) {
					return name + " Index"
				}
			}
		}
		return name + " US Equity"
	}

	// Contains whitespace: already a vendor description, pass through.
	return name
}

// optionToVendor renders SPY-20FEB26-688-C as "SPY US 02/20/26 C688 Equity".
func (a *Adapter) optionToVendor(name string) string {
	parts := strings.Split(name, "-")
	if len(parts) != 4 {
		return ""
	}
	sym, date, strike, kind := parts[0], parts[1], parts[2], parts[3]
	if kind != "C" && kind != "P" {
		return ""
	}

	dt, err := types.ParseExpiry(date)
	if err != nil {
		return ""
	}
	return sym + " US " + dt.Format("01/02/06") + " " + kind + strike + " Equity"
}

// parseVendor converts a security description to a canonical instrument
// record. Returns nil for anything that matches neither vendor shape.
func (a *Adapter) parseVendor(desc string) *types.InstrumentRecord {
	if m := optionRe.FindStringSubmatch(desc); m != nil {
		sym, dateStr, kind, strikeStr := m[1], m[2], m[3], m[4]

		dt, err := time.ParseInLocation("1/2/06", dateStr, time.UTC)
		if err != nil {
			return nil
		}
		strike := types.NormalizeStrike(strikeStr)
		if strike == "" {
			return nil
		}

		return &types.InstrumentRecord{
			InstrumentName:      sym + "-" + types.FormatExpiry(dt) + "-" + strike + "-" + kind,
			ExpirationTimestamp: dt.UnixMilli(),
			BaseCurrency:        sym,
			QuoteCurrency:       "USD",
		}
	}

	if m := underlyingRe.FindStringSubmatch(desc); m != nil {
		sym := m[1]
		return &types.InstrumentRecord{
			InstrumentName: sym,
			BaseCurrency:   sym,
			QuoteCurrency:  "USD",
		}
	}

	return nil
}
