package callerid

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used to parse numbers stored without a country prefix.
const DefaultRegion = "US"

// NormalizeE164 formats a phone number as E.164. Values that cannot be parsed
// (e.g. "anonymous" or SIP URIs) are returned trimmed but otherwise unchanged.
func NormalizeE164(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}
	num, err := phonenumbers.Parse(s, DefaultRegion)
	if err != nil {
		return s
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return s
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}
