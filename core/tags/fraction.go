package tags

import (
	"regexp"
	"strconv"
)

var fractionRe = regexp.MustCompile(`^\s*(\d+)\s*(?:/\s*(\d+)\s*)?$`)

// ParseFraction parses "pos/total" or "pos". Empty or non-matching input
// yields (nil, nil).
func ParseFraction(s string) (pos, total *int) {
	m := fractionRe.FindStringSubmatch(s)
	if m == nil {
		return nil, nil
	}
	p, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, nil
	}
	pos = &p
	if m[2] != "" {
		if t, err := strconv.Atoi(m[2]); err == nil {
			total = &t
		}
	}
	return pos, total
}

func formatFraction(pos, total *int) string {
	switch {
	case pos == nil:
		return ""
	case total == nil:
		return strconv.Itoa(*pos)
	default:
		return strconv.Itoa(*pos) + "/" + strconv.Itoa(*total)
	}
}

func intString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func parseInt(s string) *int {
	p, _ := ParseFraction(s)
	return p
}
