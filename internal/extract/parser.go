// Package extract recovers structured receipts from model output.
//
// Parse never fails: fenced, escaped, truncated or entirely unstructured
// text all produce a receipt, with unrecoverable fields left at their
// defaults. The package holds no mutable state and is safe for concurrent
// use.
package extract

import (
	"strings"

	"github.com/ppiankov/reconcile/internal/model"
)

// Strategy names the path that produced a result
type Strategy string

const (
	StrategyEmpty    Strategy = "empty"    // blank input, canonical empty receipt
	StrategyStrict   Strategy = "strict"   // cleaned text decoded as-is
	StrategyRepair   Strategy = "repair"   // decoded after jsonrepair (opt-in)
	StrategyFallback Strategy = "fallback" // pattern-based recovery
)

// Result is one parse outcome. Raw is returned with the receipt so callers
// can keep the model output per request.
type Result struct {
	Receipt  model.Receipt `json:"data"`
	Raw      string        `json:"raw_response"`
	Cleaned  string        `json:"-"`
	Strategy Strategy      `json:"strategy"`
	Warnings []string      `json:"warnings,omitempty"`
}

// ShapeChecker reports problems with a decoded receipt without changing it
type ShapeChecker interface {
	Check(r model.Receipt) []string
}

// Options tunes a Parser
type Options struct {
	// Repair runs jsonrepair between the strict decode and the fallback.
	// Off by default: repaired output can invent structure.
	Repair bool

	// Checker, when set, annotates decoded receipts with warnings
	Checker ShapeChecker
}

// Parser applies the recovery pipeline with fixed options
type Parser struct {
	opts Options
}

// NewParser creates a parser
func NewParser(opts Options) *Parser {
	return &Parser{opts: opts}
}

var defaultParser = NewParser(Options{})

// Parse runs the default parser
func Parse(raw string) *Result {
	return defaultParser.Parse(raw)
}

// ParseBytes parses a byte slice; nil is treated as empty input
func ParseBytes(raw []byte) *Result {
	return defaultParser.Parse(string(raw))
}

// Parse turns raw model output into a receipt
func (p *Parser) Parse(raw string) *Result {
	result := &Result{Raw: raw}

	if strings.TrimSpace(raw) == "" {
		result.Receipt = model.EmptyReceipt()
		result.Strategy = StrategyEmpty
		return result
	}

	cleaned := Clean(raw)
	result.Cleaned = cleaned

	if obj, ok := decodeObject(cleaned); ok {
		result.Receipt = model.Receipt(obj)
		result.Strategy = StrategyStrict
		result.Warnings = p.check(result.Receipt)
		return result
	}

	if p.opts.Repair {
		if obj, ok := repairObject(cleaned); ok {
			result.Receipt = model.Receipt(obj)
			result.Strategy = StrategyRepair
			result.Warnings = p.check(result.Receipt)
			return result
		}
	}

	result.Receipt = extractFallback(cleaned)
	result.Strategy = StrategyFallback
	return result
}

func (p *Parser) check(r model.Receipt) []string {
	if p.opts.Checker == nil {
		return nil
	}
	return p.opts.Checker.Check(r)
}
