// Package redact keeps patient contact details out of logs and stored errors.
package redact

import (
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
	dateRe  = regexp.MustCompile(`\b[0-9]{1,4}[-/.][0-9]{1,2}[-/.][0-9]{1,4}\b`)
)

// Text replaces emails with [EMAIL], phone numbers with [PHONE] and numeric
// dates with [DATE]. Names are kept.
func Text(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = dateRe.ReplaceAllString(text, "[DATE]")
	return phoneRe.ReplaceAllString(text, "[PHONE]")
}

// Address masks a single email address or phone number, keeping enough to
// tell recipients apart in logs: "j***@example.com", "***2671".
func Address(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if at := strings.LastIndex(addr, "@"); at > 0 {
		return addr[:1] + "***" + addr[at:]
	}
	digits := make([]byte, 0, len(addr))
	for i := 0; i < len(addr); i++ {
		if addr[i] >= '0' && addr[i] <= '9' {
			digits = append(digits, addr[i])
		}
	}
	if len(digits) <= 4 {
		return "***"
	}
	return "***" + string(digits[len(digits)-4:])
}
