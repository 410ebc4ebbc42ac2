package extract

// maxFragmentDepth is the deepest brace nesting a fragment may contain:
// the fragment's own braces plus one nested level.
const maxFragmentDepth = 2

// braceSpan is one opening brace and, once seen, its matching close
type braceSpan struct {
	open   int
	close  int // -1 while unmatched
	height int // nesting levels at and below this brace
}

// fragments returns the non-overlapping brace-delimited substrings of text
// whose nesting stays within maxFragmentDepth, in order of appearance.
//
// Scanning is left to right: an opening brace that never closes, or whose
// body nests too deeply, is skipped and the next brace inside it becomes a
// candidate. A fragment that closes consumes its whole span. Quotes are not
// tracked. One stack pass computes every match, so the scan stays linear
// on adversarial input.
func fragments(text string) []string {
	var spans []braceSpan
	var stack []int

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			spans = append(spans, braceSpan{open: i, close: -1, height: 1})
			stack = append(stack, len(spans)-1)
		case '}':
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			spans[top].close = i

			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				if h := spans[top].height + 1; h > spans[parent].height {
					spans[parent].height = h
				}
			}
		}
	}

	var out []string
	cursor := 0
	for _, s := range spans {
		if s.open < cursor || s.close < 0 || s.height > maxFragmentDepth {
			continue
		}
		out = append(out, text[s.open:s.close+1])
		cursor = s.close + 1
	}

	return out
}
