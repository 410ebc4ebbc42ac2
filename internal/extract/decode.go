package extract

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// decodeObject decodes text as exactly one JSON object. Numbers keep their
// literal form. Arrays, scalars, null and trailing data are failures.
func decodeObject(text string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}

	return obj, true
}

// repairObject runs jsonrepair over text and decodes the result
func repairObject(text string) (map[string]any, bool) {
	fixed, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, false
	}
	return decodeObject(fixed)
}
