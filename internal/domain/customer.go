package domain

import (
	"strings"
	"time"
	"unicode"
)

// Customer is a person identified by phone number.
type Customer struct {
	ID        string
	Name      string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MinPhoneDigits is the shortest accepted phone number (area code + number).
const MinPhoneDigits = 10

// NormalizePhone strips everything but digits from a phone number.
func NormalizePhone(phone string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) < MinPhoneDigits {
		return "", &ValidationError{Field: "phone", Reason: "must have at least 10 digits"}
	}
	return digits, nil
}

var namePrepositions = map[string]bool{
	"de": true, "da": true, "do": true, "dos": true, "das": true, "e": true,
}

// NormalizeName converts a name to title case. Short prepositions stay lower
// case unless they open the name: "JOAO DA SILVA" becomes "Joao da Silva".
func NormalizeName(name string) (string, error) {
	words := strings.Fields(strings.ToLower(name))
	if len([]rune(strings.Join(words, " "))) < 2 {
		return "", &ValidationError{Field: "name", Reason: "must have at least 2 characters"}
	}
	for i, w := range words {
		if i > 0 && namePrepositions[w] {
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " "), nil
}
