package intent

import "unicode"

// detectLanguage guesses the query language from character classes.
// It only distinguishes scripts that are unambiguous from runes alone;
// Latin-script text falls back to the caller-supplied locale, default "en".
func detectLanguage(query, fallbackLocale string) string {
	var han, kana, hangul, cyrillic, arabic, hebrew, latin, accented int

	for _, r := range query {
		switch {
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.Is(unicode.Hebrew, r):
			hebrew++
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			latin++
		case unicode.Is(unicode.Latin, r):
			// Latin letters outside ASCII: diacritics (é, ü, ñ, ...)
			accented++
		}
	}

	switch {
	case kana > 0:
		return "ja"
	case hangul > 0:
		return "ko"
	case han > 0:
		// Han without kana: Chinese
		return "zh"
	case cyrillic > latin:
		return "ru"
	case arabic > latin:
		return "ar"
	case hebrew > latin:
		return "he"
	}

	if fallbackLocale != "" {
		return normalizeLocale(fallbackLocale)
	}
	// Heavily accented Latin text with no locale hint stays generic.
	_ = accented
	return "en"
}

// normalizeLocale reduces "en-US" style locales to the bare language tag.
func normalizeLocale(locale string) string {
	for i, r := range locale {
		if r == '-' || r == '_' {
			return locale[:i]
		}
	}
	return locale
}
