package gateway

import (
	"fmt"
	"strings"
)

// NormalizePhone converts a Kenyan mobile number to the 2547XXXXXXXX /
// 2541XXXXXXXX form the provider expects. Accepted inputs are 07XXXXXXXX,
// 01XXXXXXXX, 7XXXXXXXX, 1XXXXXXXX, +254… and 254…, with spaces or dashes.
func NormalizePhone(raw string) (string, error) {
	s := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "+")
	switch {
	case strings.HasPrefix(s, "254"):
	case strings.HasPrefix(s, "0") && len(s) == 10:
		s = "254" + s[1:]
	case len(s) == 9:
		s = "254" + s
	}
	if len(s) != 12 || (s[3] != '7' && s[3] != '1') {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid phone number %q", raw)
		}
	}
	return s, nil
}
