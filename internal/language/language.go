package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Default is used when no target is configured.
const Default = "zh-CN"

// Common names mapped to the tag a reader most likely means.
var aliases = map[string]string{
	"chinese":             "zh-CN",
	"simplified chinese":  "zh-CN",
	"traditional chinese": "zh-TW",
	"中文":                  "zh-CN",
	"简体中文":                "zh-CN",
	"繁體中文":                "zh-TW",
	"zh":                  "zh-CN",
	"zh-hans":             "zh-CN",
	"zh-hant":             "zh-TW",
	"english":             "en",
	"japanese":            "ja",
	"日本語":                 "ja",
	"korean":              "ko",
	"german":              "de",
	"french":              "fr",
	"spanish":             "es",
	"russian":             "ru",
	"portuguese":          "pt",
	"italian":             "it",
}

// Canonical returns the BCP 47 form of target. Blank input yields Default;
// input that is not a recognizable language is returned trimmed.
func Canonical(target string) string {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return Default
	}
	key := strings.ToLower(strings.ReplaceAll(trimmed, "_", "-"))
	if tag, ok := aliases[key]; ok {
		return tag
	}
	tag, err := language.Parse(key)
	if err != nil {
		return trimmed
	}
	if base, conf := tag.Base(); conf == language.No || base.String() == "und" {
		return trimmed
	}
	return tag.String()
}

// Known reports whether target canonicalizes to a real language tag.
func Known(target string) bool {
	_, err := language.Parse(Canonical(target))
	return err == nil
}

// DisplayName renders tag in English, for example "Simplified Chinese".
// Unparseable input is returned as given.
func DisplayName(target string) string {
	canonical := Canonical(target)
	tag, err := language.Parse(canonical)
	if err != nil {
		return canonical
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return canonical
}
