package models

import (
	"fmt"

	"golang.org/x/text/language"
)

// CanonicalLanguage validates a BCP 47 code and returns its canonical form,
// so "pt-br" and "pt-BR" name the same language.
func CanonicalLanguage(code string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("invalid language code %q: %v", code, err)
	}
	return tag.String(), nil
}
