package extract

import (
	"strings"

	"github.com/ppiankov/reconcile/internal/model"
)

// itemsMarker is the key that must appear before item recovery is attempted
const itemsMarker = `"` + model.FieldItems + `"`

// extractFallback rebuilds a receipt from text that failed to decode,
// using only the four header patterns and brace fragments.
func extractFallback(text string) model.Receipt {
	return model.Receipt{
		model.FieldMerchant: stringField(text, model.FieldMerchant),
		model.FieldAddress:  stringField(text, model.FieldAddress),
		model.FieldDate:     stringField(text, model.FieldDate),
		model.FieldTotal:    stringField(text, model.FieldTotal),
		model.FieldItems:    extractItems(text),
	}
}

// extractItems recovers line items from every complete fragment. Without an
// items marker and an opening bracket no fragment is considered, so braces
// in surrounding prose never turn into items.
func extractItems(text string) []any {
	items := []any{}

	if !strings.Contains(text, itemsMarker) || !strings.Contains(text, "[") {
		return items
	}

	for _, frag := range fragments(text) {
		if obj, ok := decodeObject(frag); ok {
			items = append(items, obj)
			continue
		}
		if item, ok := scrapeItem(frag); ok {
			items = append(items, item)
		}
	}

	return items
}
