// Package routing implements the Routing Config component (§4.D): a
// declarative, hot-reloadable map from source account to destinations,
// filters, sizing, and symbol overrides.
package routing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"copytrader/internal/domain"
	"copytrader/internal/ports"
)

type fileSchema struct {
	Routes map[string]routeFile `yaml:"routes"`
}

type routeFile struct {
	SourceRegion string            `yaml:"sourceRegion"`
	Destinations []destinationFile `yaml:"destinations"`
}

type destinationFile struct {
	AccountID              string            `yaml:"accountId"`
	Region                 string            `yaml:"region"`
	Nickname               string            `yaml:"nickname"`
	SymbolAllowlist        []string          `yaml:"symbolAllowlist"`
	SymbolBlocklist        []string          `yaml:"symbolBlocklist"`
	SymbolRewrite          map[string]string `yaml:"symbolRewrite"`
	Sizing                 sizingFile        `yaml:"sizing"`
	DefaultStopLossPips    *float64          `yaml:"defaultStopLossPips"`
	DefaultTakeProfitPips  *float64          `yaml:"defaultTakeProfitPips"`
	MaxConcurrentPerSymbol int               `yaml:"maxConcurrentPerSymbol"`
	RequireStopLoss        []string          `yaml:"requireStopLoss"`
	MirrorStops            *bool             `yaml:"mirrorStops"` // defaults true if unset
}

type sizingFile struct {
	Method     string  `yaml:"method"`
	Fixed      float64 `yaml:"fixed"`
	Multiplier float64 `yaml:"multiplier"`
	MinLot     float64 `yaml:"minLot"`
	MaxLot     float64 `yaml:"maxLot"`
	LotStep    float64 `yaml:"lotStep"`
}

// table is the parsed, validated routing configuration held by Provider.
type table struct {
	bySource map[string][]domain.Route
}

// parseFile reads and unmarshals the YAML route file, returning the first
// read or YAML error. Per-destination schema errors are collected later,
// by build, rather than failing on the first one.
func parseFile(path string) (*fileSchema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing config '%s': %w", path, err)
	}
	var schema fileSchema
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parse routing config '%s': %w", path, err)
	}
	return &schema, nil
}

// build converts a parsed file into a table, then validates every
// referenced source and destination account is reachable via the Pool
// Client's accountInfo call (§4.D: "startup fails loudly otherwise").
func build(ctx context.Context, schema *fileSchema, pool ports.PoolClient) (*table, error) {
	var errs []string
	t := &table{bySource: make(map[string][]domain.Route)}

	for sourceAccountID, rf := range schema.Routes {
		if pool != nil {
			if _, err := pool.AccountInfo(ctx, sourceAccountID, rf.SourceRegion); err != nil {
				errs = append(errs, fmt.Sprintf("source %s (region %s) unreachable via pool client: %v", sourceAccountID, rf.SourceRegion, err))
			}
		}
		for _, df := range rf.Destinations {
			dest, destErrs := toDestination(df)
			errs = append(errs, destErrs...)

			if pool != nil {
				if _, err := pool.AccountInfo(ctx, df.AccountID, df.Region); err != nil {
					errs = append(errs, fmt.Sprintf("destination %s (region %s) unreachable via pool client: %v", df.AccountID, df.Region, err))
				}
			}

			t.bySource[sourceAccountID] = append(t.bySource[sourceAccountID], domain.Route{
				SourceAccountID: sourceAccountID,
				SourceRegion:    rf.SourceRegion,
				Destination:     dest,
			})
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrConfigInvalid, strings.Join(errs, "; "))
	}
	return t, nil
}

func toDestination(df destinationFile) (domain.Destination, []string) {
	var errs []string

	if df.AccountID == "" {
		errs = append(errs, "destination accountId must be set")
	}

	method, err := parseSizingMethod(df.Sizing.Method)
	if err != nil {
		errs = append(errs, err.Error())
	}

	dest := domain.Destination{
		AccountID: df.AccountID,
		Region:    df.Region,
		Nickname:  df.Nickname,
		Sizing: domain.SizingRule{
			Method:     method,
			Fixed:      decimal.NewFromFloat(df.Sizing.Fixed),
			Multiplier: decimal.NewFromFloat(df.Sizing.Multiplier),
			MinLot:     decimal.NewFromFloat(df.Sizing.MinLot),
			MaxLot:     decimal.NewFromFloat(df.Sizing.MaxLot),
			LotStep:    decimal.NewFromFloat(df.Sizing.LotStep),
		},
		MaxConcurrentPerSymbol: df.MaxConcurrentPerSymbol,
		MirrorStops:            df.MirrorStops == nil || *df.MirrorStops,
	}

	if len(df.SymbolAllowlist) > 0 {
		dest.SymbolAllowlist = toSet(df.SymbolAllowlist)
	}
	if len(df.SymbolBlocklist) > 0 {
		dest.SymbolBlocklist = toSet(df.SymbolBlocklist)
	}
	if len(df.SymbolRewrite) > 0 {
		dest.SymbolRewrite = df.SymbolRewrite
	}
	if len(df.RequireStopLoss) > 0 {
		dest.RequireStopLoss = make(map[string]bool, len(df.RequireStopLoss))
		for _, s := range df.RequireStopLoss {
			dest.RequireStopLoss[s] = true
		}
	}
	if df.DefaultStopLossPips != nil {
		v := decimal.NewFromFloat(*df.DefaultStopLossPips)
		dest.DefaultStopLossPips = &v
	}
	if df.DefaultTakeProfitPips != nil {
		v := decimal.NewFromFloat(*df.DefaultTakeProfitPips)
		dest.DefaultTakeProfitPips = &v
	}

	return dest, errs
}

func parseSizingMethod(s string) (domain.SizingMethod, error) {
	switch strings.ToLower(s) {
	case "fixed":
		return domain.SizingFixed, nil
	case "multiplier":
		return domain.SizingMultiplier, nil
	case "equity_ratio", "equityratio":
		return domain.SizingEquityRatio, nil
	default:
		return "", fmt.Errorf("unknown sizing method %q", s)
	}
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}
