package extract

import (
	"regexp"
	"strconv"

	"github.com/ppiankov/reconcile/internal/model"
)

// stringPatterns match `"<field>" : "<value>"` for every string field the
// fallback path knows about
var stringPatterns = compileStringPatterns(
	model.FieldMerchant, model.FieldAddress, model.FieldDate, model.FieldTotal,
	model.ItemName, model.ItemUnitPrice, model.ItemTotalPrice,
)

var qtyPattern = regexp.MustCompile(`"` + model.ItemQty + `"\s*:\s*([0-9]+)`)

func compileStringPatterns(fields ...string) map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(fields))
	for _, f := range fields {
		patterns[f] = regexp.MustCompile(`"` + regexp.QuoteMeta(f) + `"\s*:\s*"([^"]*)"`)
	}
	return patterns
}

// stringField returns the first quoted value for field, or ""
func stringField(text, field string) string {
	pattern, ok := stringPatterns[field]
	if !ok {
		return ""
	}
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// qtyField returns the first unsigned integer quantity and whether the key
// matched at all. Zero and out-of-range values fall back to DefaultQty.
func qtyField(text string) (int, bool) {
	m := qtyPattern.FindStringSubmatch(text)
	if m == nil {
		return model.DefaultQty, false
	}
	qty, err := strconv.Atoi(m[1])
	if err != nil || qty < 1 {
		return model.DefaultQty, true
	}
	return qty, true
}

// scrapeItem rebuilds a line item from a fragment that is not valid JSON.
// The second return is false when nothing item-like was found.
func scrapeItem(fragment string) (map[string]any, bool) {
	name := stringField(fragment, model.ItemName)
	unitPrice := stringField(fragment, model.ItemUnitPrice)
	totalPrice := stringField(fragment, model.ItemTotalPrice)
	qty, qtyFound := qtyField(fragment)

	if name == "" && unitPrice == "" && totalPrice == "" && !qtyFound {
		return nil, false
	}

	return map[string]any{
		model.ItemName:       name,
		model.ItemQty:        qty,
		model.ItemUnitPrice:  unitPrice,
		model.ItemTotalPrice: totalPrice,
	}, true
}
