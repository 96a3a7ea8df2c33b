//go:build onnx

package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

const (
	clsToken = "[CLS]"
	sepToken = "[SEP]"
	unkToken = "[UNK]"
)

// vocabulary is a lowercase WordPiece tokenizer read from tokenizer.json.
type vocabulary struct {
	ids           map[string]int64
	cls, sep, unk int64
}

func loadVocabulary(path string) (*vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	v := &vocabulary{ids: raw.Model.Vocab}
	for name, dst := range map[string]*int64{clsToken: &v.cls, sepToken: &v.sep, unkToken: &v.unk} {
		id, ok := v.ids[name]
		if !ok {
			return nil, fmt.Errorf("tokenizer has no %s token", name)
		}
		*dst = id
	}
	return v, nil
}

func (v *vocabulary) size() int { return len(v.ids) }

// encode returns [CLS] tokens... [SEP], at most max ids long.
func (v *vocabulary) encode(text string, max int) []int64 {
	ids := []int64{v.cls}
	for _, word := range splitWords(text) {
		for _, piece := range v.wordPiece(word) {
			if len(ids) == max-1 {
				return append(ids, v.sep)
			}
			ids = append(ids, piece)
		}
	}
	return append(ids, v.sep)
}

// splitWords lowercases text and splits on whitespace, keeping punctuation
// as separate words the way BERT's basic tokenizer does.
func splitWords(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// wordPiece greedily splits word into the longest known prefixes, marking
// continuations with "##". An unsplittable word becomes [UNK].
func (v *vocabulary) wordPiece(word string) []int64 {
	if id, ok := v.ids[word]; ok {
		return []int64{id}
	}

	var out []int64
	for start := 0; start < len(word); {
		end := len(word)
		var id int64
		found := false
		for ; end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if id, found = v.ids[piece]; found {
				break
			}
		}
		if !found {
			return []int64{v.unk}
		}
		out = append(out, id)
		start = end
	}
	return out
}
