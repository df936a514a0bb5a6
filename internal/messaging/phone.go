package messaging

import "strings"

const whatsappPrefix = "whatsapp:"

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	digits := sanitizePhone(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// NormalizeContact canonicalizes a messaging address. The channel prefix is
// kept so replies go back over the same channel:
// "whatsapp: +55 (11) 99999-0000" becomes "whatsapp:+5511999990000".
func NormalizeContact(value string) string {
	value = strings.TrimSpace(value)
	prefix := ""
	if len(value) >= len(whatsappPrefix) && strings.EqualFold(value[:len(whatsappPrefix)], whatsappPrefix) {
		prefix = whatsappPrefix
		value = value[len(whatsappPrefix):]
	}
	number := NormalizeE164(value)
	if number == "" {
		return ""
	}
	return prefix + number
}

// IsWhatsApp reports whether contact is a WhatsApp address.
func IsWhatsApp(contact string) bool {
	return strings.HasPrefix(contact, whatsappPrefix)
}

func sanitizePhone(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
