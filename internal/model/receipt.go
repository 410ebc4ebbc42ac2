package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Header field names recovered by every parse path
const (
	FieldMerchant = "merchant"
	FieldAddress  = "address"
	FieldDate     = "date"
	FieldTotal    = "total"
	FieldItems    = "items"
)

// Line item field names
const (
	ItemName       = "name"
	ItemQty        = "qty"
	ItemUnitPrice  = "unit_price"
	ItemTotalPrice = "total_price"
)

// HeaderFields lists the four canonical header fields in storage order
var HeaderFields = []string{FieldMerchant, FieldAddress, FieldDate, FieldTotal}

// ItemFields lists the canonical line item fields in column order
var ItemFields = []string{ItemName, ItemQty, ItemUnitPrice, ItemTotalPrice}

// DefaultQty is used when a quantity cannot be recovered
const DefaultQty = 1

// Receipt is a loosely typed receipt record.
// On the strict decode path it holds whatever object the model produced,
// so consumers must not assume more than the accessor methods guarantee.
type Receipt map[string]any

// Item is a loosely typed line item
type Item map[string]any

// EmptyReceipt returns the canonical all-empty record
func EmptyReceipt() Receipt {
	return Receipt{
		FieldMerchant: "",
		FieldAddress:  "",
		FieldDate:     "",
		FieldTotal:    "",
		FieldItems:    []any{},
	}
}

// Merchant returns the merchant as a string ("" when absent)
func (r Receipt) Merchant() string { return r.Field(FieldMerchant) }

// Address returns the address as a string ("" when absent)
func (r Receipt) Address() string { return r.Field(FieldAddress) }

// Date returns the date as a string ("" when absent)
func (r Receipt) Date() string { return r.Field(FieldDate) }

// Total returns the total as a string ("" when absent)
func (r Receipt) Total() string { return r.Field(FieldTotal) }

// Field returns a header value formatted as a string
func (r Receipt) Field(name string) string {
	v, ok := r[name]
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// Items returns the line items that are objects. Non-object entries
// (possible on the strict path) are skipped.
func (r Receipt) Items() []Item {
	raw, ok := r[FieldItems]
	if !ok {
		return nil
	}

	var items []Item
	switch list := raw.(type) {
	case []any:
		for _, entry := range list {
			switch m := entry.(type) {
			case map[string]any:
				items = append(items, Item(m))
			case Item:
				items = append(items, m)
			}
		}
	case []Item:
		items = append(items, list...)
	case []map[string]any:
		for _, m := range list {
			items = append(items, Item(m))
		}
	}
	return items
}

// HeaderKey identifies a receipt for duplicate detection
func (r Receipt) HeaderKey() [4]string {
	return [4]string{r.Merchant(), r.Address(), r.Date(), r.Total()}
}

// Missing returns the names of required top-level fields absent from the record
func (r Receipt) Missing() []string {
	var missing []string
	for _, f := range append(append([]string{}, HeaderFields...), FieldItems) {
		if _, ok := r[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// ItemColumns returns the line item column order: canonical fields first,
// then every other observed key sorted.
func ItemColumns(items []Item) []string {
	canonical := make(map[string]bool, len(ItemFields))
	for _, f := range ItemFields {
		canonical[f] = true
	}

	seen := make(map[string]bool)
	var extra []string
	for _, item := range items {
		for k := range item {
			if canonical[k] || seen[k] {
				continue
			}
			seen[k] = true
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)

	return append(append([]string{}, ItemFields...), extra...)
}

// FormatValue renders a decoded value the way it is stored in tabular files
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
