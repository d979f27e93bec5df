// symbolsheet.go loads the per-adapter symbol translation table.
//
// The table is a CSV with a required "Symbol" column plus one column per
// adapter key ("deribit", "terminal", ...). Cell values follow the
// directive grammar:
//
//	exact:<vendor-string>  map the symbol to this literal vendor name
//	index                  the symbol is an index-class reference
//	futureprefix           the symbol prefixes futures codes (ESU6, NQZ5, ...)
//	(empty)                no directive for this adapter
//
// A missing file or a missing adapter column is not an error: translation
// falls back to the adapter's built-in defaults.
package adapter

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// SymbolSheet holds the translation directives parsed for one adapter
// column. Zero-value maps mean "no directives".
type SymbolSheet struct {
	Exact          map[string]string // canonical symbol -> literal vendor name
	Reverse        map[string]string // literal vendor name -> canonical symbol
	Index          map[string]bool   // symbols that take the vendor's index qualifier
	FuturePrefixes map[string]bool   // symbols acting as futures-code prefixes
}

// NewSymbolSheet returns an empty sheet with allocated maps.
func NewSymbolSheet() *SymbolSheet {
	return &SymbolSheet{
		Exact:          make(map[string]string),
		Reverse:        make(map[string]string),
		Index:          make(map[string]bool),
		FuturePrefixes: make(map[string]bool),
	}
}

// LoadSymbolSheet reads the CSV at path and extracts the directives from the
// column named adapterName. A missing file yields an empty sheet and no
// error; a malformed file yields an empty sheet and the parse error so the
// caller can log it.
func LoadSymbolSheet(path, adapterName string) (*SymbolSheet, error) {
	sheet := NewSymbolSheet()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sheet, nil
		}
		return sheet, fmt.Errorf("open symbol sheet: %w", err)
	}
	defer f.Close()

	if err := sheet.parse(f, adapterName); err != nil {
		return NewSymbolSheet(), fmt.Errorf("parse symbol sheet: %w", err)
	}
	return sheet, nil
}

func (s *SymbolSheet) parse(r io.Reader, adapterName string) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	symCol, valCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "Symbol":
			symCol = i
		case adapterName:
			valCol = i
		}
	}
	if symCol < 0 || valCol < 0 {
		// No column for this adapter; nothing to load.
		return nil
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if symCol >= len(row) || valCol >= len(row) {
			continue
		}

		sym := strings.TrimSpace(row[symCol])
		val := strings.TrimSpace(row[valCol])
		if sym == "" || val == "" {
			continue
		}

		switch {
		case strings.HasPrefix(strings.ToLower(val), "exact:"):
			vendor := strings.TrimSpace(val[len("exact:"):])
			if vendor != "" {
				s.Exact[sym] = vendor
				s.Reverse[vendor] = sym
			}
		case strings.EqualFold(val, "index"):
			s.Index[sym] = true
		case strings.EqualFold(val, "futureprefix"):
			s.FuturePrefixes[sym] = true
		}
	}
}
