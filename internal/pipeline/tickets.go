package pipeline

import (
	"regexp"
	"strings"
)

var (
	ticketKeyRegex   = regexp.MustCompile(`^[A-Z]+-\d+$`)
	ticketSplitRegex = regexp.MustCompile(`[\n,]+`)
)

// ParseTicketKeys splits a newline- or comma-separated key list. Blank
// entries and '#' comments are dropped and duplicates keep their first
// position. Every malformed key is reported in one error.
func ParseTicketKeys(text string) ([]string, error) {
	seen := make(map[string]bool)
	var keys, bad []string

	for _, item := range ticketSplitRegex.Split(text, -1) {
		item = strings.TrimSpace(item)
		if item == "" || strings.HasPrefix(item, "#") || seen[item] {
			continue
		}
		seen[item] = true
		if !ticketKeyRegex.MatchString(item) {
			bad = append(bad, item)
			continue
		}
		keys = append(keys, item)
	}

	if len(bad) > 0 {
		return nil, invalid("tickets", "Invalid ticket key(s): %s", strings.Join(bad, ", "))
	}
	if len(keys) == 0 {
		return nil, invalid("tickets", "No ticket keys provided.")
	}
	return keys, nil
}
