package codec

import (
	"fmt"
	"regexp"
	"strings"
)

var fullDesignator = regexp.MustCompile(`^([0-9]{4})-([0-9]{3})([A-Z]{0,3})$`)

// ShortDesignator converts a full international designator such as
// "1998-067A" into the short form "98067A" carried on line 1. Strings that do
// not match YYYY-NNNsss yield ok == false.
func ShortDesignator(objectID string) (string, bool) {
	m := fullDesignator.FindStringSubmatch(strings.TrimSpace(objectID))
	if m == nil {
		return "", false
	}
	return m[1][2:] + m[2] + m[3], true
}

// FullDesignator expands a short designator from line 1 back into
// YYYY-NNNsss using the same two-digit year window as the epoch.
func FullDesignator(short string) (string, bool) {
	short = strings.TrimSpace(short)
	if len(short) < 5 || len(short) > 8 {
		return "", false
	}
	for i := 0; i < 5; i++ {
		if short[i] < '0' || short[i] > '9' {
			return "", false
		}
	}
	yy := int(short[0]-'0')*10 + int(short[1]-'0')
	full := fmt.Sprintf("%04d-%s", ExpandTwoDigitYear(yy), short[2:])
	if !fullDesignator.MatchString(full) {
		return "", false
	}
	return full, true
}
