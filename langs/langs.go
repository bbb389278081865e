// Package langs holds the fixed table of languages the game ships with.
//
// The order of the table is the order in which languages are processed by
// the batch driver and listed by the CLI.
package langs

import (
	"fmt"
	"strings"
)

// Lang describes one supported language.
type Lang struct {
	// Code is the lowercase language code used for directory names (e.g. "pt-br").
	Code string
	// Name is the English display name, used in model prompts.
	Name string
	// Native is the name of the language in the language itself.
	Native string
	// Flag is an emoji flag for CLI output.
	Flag string
}

// Keep this in sync with what the engine ships.
var table = []Lang{
	{Code: "en", Name: "English", Native: "English", Flag: "🇺🇸"},
	{Code: "es", Name: "Spanish", Native: "Español", Flag: "🇪🇸"},
	{Code: "pt-br", Name: "Brazilian Portuguese", Native: "Português (Brasil)", Flag: "🇧🇷"},
	{Code: "fr", Name: "French", Native: "Français", Flag: "🇫🇷"},
	{Code: "de", Name: "German", Native: "Deutsch", Flag: "🇩🇪"},
	{Code: "it", Name: "Italian", Native: "Italiano", Flag: "🇮🇹"},
	{Code: "ru", Name: "Russian", Native: "Русский", Flag: "🇷🇺"},
	{Code: "ja", Name: "Japanese", Native: "日本語", Flag: "🇯🇵"},
	{Code: "ko", Name: "Korean", Native: "한국어", Flag: "🇰🇷"},
	{Code: "zh-cn", Name: "Simplified Chinese", Native: "简体中文", Flag: "🇨🇳"},
	{Code: "zh-tw", Name: "Traditional Chinese", Native: "繁體中文", Flag: "🇹🇼"},
	{Code: "ar", Name: "Arabic", Native: "العربية", Flag: "🇸🇦"},
	{Code: "tr", Name: "Turkish", Native: "Türkçe", Flag: "🇹🇷"},
	{Code: "pl", Name: "Polish", Native: "Polski", Flag: "🇵🇱"},
	{Code: "th", Name: "Thai", Native: "ไทย", Flag: "🇹🇭"},
	{Code: "vi", Name: "Vietnamese", Native: "Tiếng Việt", Flag: "🇻🇳"},
	{Code: "id", Name: "Indonesian", Native: "Bahasa Indonesia", Flag: "🇮🇩"},
}

var byCode = func() map[string]Lang {
	m := make(map[string]Lang, len(table))
	for _, l := range table {
		m[l.Code] = l
	}
	return m
}()

// All returns the supported languages in table order.
func All() []Lang {
	out := make([]Lang, len(table))
	copy(out, table)
	return out
}

// Codes returns the supported language codes in table order.
func Codes() []string {
	out := make([]string, len(table))
	for i, l := range table {
		out[i] = l.Code
	}
	return out
}

// Lookup returns the language for an exact code.
func Lookup(code string) (Lang, bool) {
	l, ok := byCode[code]
	return l, ok
}

// Name returns the English display name of a code, or the code itself
// when it is not in the table.
func Name(code string) string {
	if l, ok := byCode[code]; ok {
		return l.Name
	}
	return code
}

// canonicalize lowercases a code and uses '-' as the region separator.
func canonicalize(code string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(code)), "_", "-")
}

// aliases maps codes without a table entry of their own onto the table.
var aliases = map[string]string{
	"zh":      "zh-cn",
	"zh-hans": "zh-cn",
	"zh-sg":   "zh-cn",
	"zh-hant": "zh-tw",
	"zh-hk":   "zh-tw",
	"pt":      "pt-br",
}

// Normalize maps a detected or user-supplied code onto the table:
// "pt_BR" → "pt-br", "en-US" → "en", "zh" → "zh-cn", "pt-PT" → "pt-br".
// The second return value is false when no table entry matches.
func Normalize(code string) (string, bool) {
	c := canonicalize(code)
	if c == "" {
		return "", false
	}
	if n, ok := lookupCode(c); ok {
		return n, true
	}
	if base, _, found := strings.Cut(c, "-"); found {
		if n, ok := lookupCode(base); ok {
			return n, true
		}
	}
	return c, false
}

func lookupCode(c string) (string, bool) {
	if _, ok := byCode[c]; ok {
		return c, true
	}
	if a, ok := aliases[c]; ok {
		return a, true
	}
	return "", false
}

// Subset resolves a list of codes against the table, preserving table order
// and dropping duplicates. An empty list selects every language.
func Subset(codes []string) ([]Lang, error) {
	if len(codes) == 0 {
		return All(), nil
	}
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		n, ok := Normalize(c)
		if !ok {
			return nil, fmt.Errorf("unsupported language %q (supported: %s)", c, strings.Join(Codes(), ", "))
		}
		want[n] = true
	}
	var out []Lang
	for _, l := range table {
		if want[l.Code] {
			out = append(out, l)
		}
	}
	return out, nil
}
