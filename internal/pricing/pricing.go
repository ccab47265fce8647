// Package pricing loads market reference price tables from YAML or JSON files.
package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/zombor/invoice-auditor/internal/audit"
	"gopkg.in/yaml.v3"
)

// hourlyUnits are billing units whose unit price is an hourly price
var hourlyUnits = map[string]bool{
	"hrs":    true,
	"hr":     true,
	"hour":   true,
	"hours":  true,
	"h":      true,
	"1 hour": true,
}

// Record is one row as written in a pricing file. Prices are left untyped so a
// malformed price marks the row instead of failing the file.
type Record struct {
	Vendor       string `yaml:"vendor" json:"vendor"`
	ServiceName  string `yaml:"service_name" json:"service_name"`
	SKUID        string `yaml:"sku_id" json:"sku_id"`
	Unit         string `yaml:"unit" json:"unit"`
	PricePerUnit any    `yaml:"price_per_unit" json:"price_per_unit"`
	PricePerHour any    `yaml:"price_per_hour" json:"price_per_hour"`
}

type file struct {
	Pricing []Record `yaml:"pricing"`
}

// Load reads a pricing table from path
func Load(path string) ([]audit.PricingRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rows, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rows, nil
}

// Parse decodes a pricing table. The document is either a list of entries or
// a mapping with a "pricing" list; JSON documents are accepted as YAML.
func Parse(data []byte) ([]audit.PricingRow, error) {
	var entries []Record
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] != '[' && !bytes.HasPrefix(trimmed, []byte("-")) {
		var f file
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("unmarshal pricing: %w", err)
		}
		entries = f.Pricing
	} else if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal pricing: %w", err)
	}

	rows := make([]audit.PricingRow, 0, len(entries))
	for i, e := range entries {
		row, err := e.Row()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Row converts the entry into a reference price row. Hourly units without an
// explicit hourly price take the unit price as the hourly price.
func (e Record) Row() (audit.PricingRow, error) {
	row := audit.PricingRow{
		Vendor:       strings.TrimSpace(e.Vendor),
		ServiceName:  strings.TrimSpace(e.ServiceName),
		SKUID:        strings.TrimSpace(e.SKUID),
		PricePerUnit: toAmount(e.PricePerUnit),
		PricePerHour: toAmount(e.PricePerHour),
	}
	if row.ServiceName == "" && row.SKUID == "" {
		return audit.PricingRow{}, fmt.Errorf("service_name or sku_id is required")
	}
	if !row.PricePerHour.Present && hourlyUnits[strings.ToLower(strings.TrimSpace(e.Unit))] {
		row.PricePerHour = row.PricePerUnit
	}
	return row, nil
}

// toAmount reads a YAML scalar with the same leniency as extracted amounts
func toAmount(v any) audit.Amount {
	if v == nil {
		return audit.Amount{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return audit.Amount{Present: true}
	}
	var a audit.Amount
	_ = json.Unmarshal(data, &a)
	return a
}
