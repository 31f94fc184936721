// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidSlug проверяет slug плана членства: непустой, из строчных латинских букв, цифр, дефисов и подчёркиваний.
func IsValidSlug(slug string) bool {
	if slug == "" {
		return false
	}

	for _, ch := range slug {
		switch {
		case ch >= 'a' && ch <= 'z':
		case unicode.IsDigit(ch) && ch < unicode.MaxASCII:
		case ch == '-' || ch == '_':
		default:
			return false
		}
	}

	return true
}

// IsValidScopeKey проверяет ключ области: как slug, но без дефисов.
func IsValidScopeKey(key string) bool {
	if !IsValidSlug(key) {
		return false
	}

	for _, ch := range key {
		if ch == '-' {
			return false
		}
	}

	return true
}
