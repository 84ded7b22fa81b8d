// Package ocrtext separates machine-printed question text from
// handwriting and grading marks in raw OCR provider responses.
package ocrtext

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// gradingMarks matches lines made up entirely of check/cross glyphs a
// grader leaves on the page.
var gradingMarks = regexp.MustCompile(`^[×xX✓√✗]+$`)

// handwritingTypeKeys are the differently-named type fields providers
// use to tag a recognized line.
var handwritingTypeKeys = []string{"words_type", "text_type", "char_type", "type", "category", "recg_type"}

var confidenceKeys = []string{"confidence", "score", "prob", "probability"}

var nestedConfidenceKeys = []string{"average", "overall", "text", "score", "confidence"}

// Filter extracts printed text lines from a raw OCR response. It first
// walks the structured question hierarchy when the provider returns one,
// and falls back to flattening the whole tree otherwise. Kept lines are
// deduplicated in first-seen order and newline-joined.
func Filter(raw map[string]any, minConfidence float64) string {
	if structured := fromQuestionResult(raw, minConfidence); structured != "" {
		return structured
	}

	var rows []textLine
	collectTextLines(raw, &rows)

	var kept []string
	seen := make(map[string]struct{})
	for _, row := range rows {
		if row.text == "" {
			continue
		}
		if _, dup := seen[row.text]; dup {
			continue
		}
		if looksHandwritten(row.attrs) {
			continue
		}
		if c := extractConfidence(row.attrs); c >= 0 && c < minConfidence {
			continue
		}
		if gradingMarks.MatchString(row.text) {
			continue
		}
		seen[row.text] = struct{}{}
		kept = append(kept, row.text)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// fromQuestionResult walks the qus_result → qus_element → elem_word
// hierarchy. Words carrying a declared type other than print/printed are
// rejected before the shared predicates run.
func fromQuestionResult(raw map[string]any, minConfidence float64) string {
	items, ok := raw["qus_result"].([]any)
	if !ok {
		return ""
	}

	var lines []string
	seen := make(map[string]struct{})
	for _, item := range items {
		q, ok := item.(map[string]any)
		if !ok {
			continue
		}
		elems, ok := q["qus_element"].([]any)
		if !ok {
			continue
		}
		for _, ei := range elems {
			elem, ok := ei.(map[string]any)
			if !ok {
				continue
			}
			words, ok := elem["elem_word"].([]any)
			if !ok {
				continue
			}
			for _, wi := range words {
				w, ok := wi.(map[string]any)
				if !ok {
					continue
				}
				text := fieldString(w, "word")
				if text == "" {
					continue
				}
				if _, dup := seen[text]; dup {
					continue
				}

				wordType := strings.ToLower(fieldString(w, "word_type"))
				if wordType != "" && wordType != "print" && wordType != "printed" {
					continue
				}
				if looksHandwritten(w) {
					continue
				}
				if c := extractConfidence(w); c >= 0 && c < minConfidence {
					continue
				}
				if gradingMarks.MatchString(text) {
					continue
				}

				seen[text] = struct{}{}
				lines = append(lines, text)
			}
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

type textLine struct {
	text  string
	attrs map[string]any
}

// collectTextLines flattens the response tree, collecting every map node
// that carries a non-empty word, words or text string field. Map keys are
// visited in sorted order so the output is deterministic.
func collectTextLines(node any, out *[]textLine) {
	switch n := node.(type) {
	case map[string]any:
		for _, key := range []string{"word", "words", "text"} {
			if s, ok := n[key].(string); ok && strings.TrimSpace(s) != "" {
				*out = append(*out, textLine{text: strings.TrimSpace(s), attrs: n})
				break
			}
		}

		keys := make([]string, 0, len(n))
		for key := range n {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			collectTextLines(n[key], out)
		}
	case []any:
		for _, item := range n {
			collectTextLines(item, out)
		}
	}
}

func looksHandwritten(item map[string]any) bool {
	for _, key := range handwritingTypeKeys {
		raw := strings.ToLower(fieldString(item, key))
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "hand") || strings.Contains(raw, "手写") {
			return true
		}
	}

	wordType := strings.ToLower(fieldString(item, "word_type"))
	if wordType == "handwriting" || wordType == "handwrite" {
		return true
	}

	for _, key := range []string{"source", "tag", "label"} {
		raw := strings.ToLower(fieldString(item, key))
		if strings.Contains(raw, "hand") || strings.Contains(raw, "手写") {
			return true
		}
	}

	return false
}

// extractConfidence probes the known confidence fields in order and
// returns -1 when the line carries no usable score at all. Nested score
// maps answer with their first known sub-field even when it does not
// parse, matching how providers report aggregate scores.
func extractConfidence(item map[string]any) float64 {
	for _, key := range confidenceKeys {
		value, ok := item[key]
		if !ok {
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			for _, innerKey := range nestedConfidenceKeys {
				if inner, present := nested[innerKey]; present {
					return toFloat(inner, 0)
				}
			}
			continue
		}
		if score := toFloat(value, -1); score >= 0 {
			return score
		}
	}
	return -1
}

func fieldString(item map[string]any, key string) string {
	v, ok := item[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return strings.TrimSpace(s)
}

func toFloat(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return fallback
		}
		return f
	default:
		return fallback
	}
}
