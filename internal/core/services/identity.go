package services

import (
	"strings"

	"evolution-relay/internal/core/domain"
)

// CanonicalSuffix is the address suffix every normalized contact carries
const CanonicalSuffix = "@s.whatsapp.net"

// knownSuffixes are the address variants the provider uses for one contact
var knownSuffixes = []string{CanonicalSuffix, "@lid", "@c.us"}

// NormalizeAddress canonicalizes a contact address.
// "5511999999999", "+55 11 99999-9999", "5511999999999:7@s.whatsapp.net" and
// "5511999999999@lid" all become "5511999999999@s.whatsapp.net".
func NormalizeAddress(raw string) (string, error) {
	local := strings.TrimSpace(raw)
	if at := strings.IndexByte(local, '@'); at >= 0 {
		local = local[:at]
	}
	// Multi-device addresses carry ":<device>" after the number
	if colon := strings.IndexByte(local, ':'); colon >= 0 {
		local = local[:colon]
	}

	digits := onlyDigits(local)
	if digits == "" {
		return "", domain.ErrInvalidAddress
	}
	return digits + CanonicalSuffix, nil
}

// ConversationKey strips every known suffix variant from an address
func ConversationKey(address string) string {
	key := address
	for _, suffix := range knownSuffixes {
		key = strings.TrimSuffix(key, suffix)
	}
	return key
}

// PhoneFromAddress returns the part of an address before '@'
func PhoneFromAddress(address string) string {
	if at := strings.IndexByte(address, '@'); at >= 0 {
		return address[:at]
	}
	return address
}

// ResolveConversation derives the one-to-one conversation key and contact number
func ResolveConversation(raw string) (key, contactNumber string, err error) {
	normalized, err := NormalizeAddress(raw)
	if err != nil {
		return "", "", err
	}
	key = ConversationKey(normalized)
	return key, PhoneFromAddress(key), nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
