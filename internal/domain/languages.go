package domain

import "strings"

// LanguageAuto lets the inference tool detect the spoken language.
const LanguageAuto = "auto"

// supportedLanguages is the fixed set of selectable language codes.
var supportedLanguages = map[string]struct{}{
	"en": {}, "es": {}, "fr": {}, "de": {}, "it": {}, "pt": {},
	"nl": {}, "ru": {}, "uk": {}, "pl": {}, "ja": {}, "ko": {}, "zh": {},
}

// NormalizeLanguage trims and lowercases a selector, mapping empty to auto.
func NormalizeLanguage(raw string) string {
	lang := strings.ToLower(strings.TrimSpace(raw))
	if lang == "" {
		return LanguageAuto
	}
	return lang
}

// SupportedLanguage reports whether the selector is auto or a known code.
func SupportedLanguage(lang string) bool {
	if lang == LanguageAuto {
		return true
	}
	_, ok := supportedLanguages[lang]
	return ok
}

// SupportedLanguages returns the selectable codes, auto excluded.
func SupportedLanguages() []string {
	out := make([]string, 0, len(supportedLanguages))
	for code := range supportedLanguages {
		out = append(out, code)
	}
	return out
}
