package memory

import (
	"regexp"
	"strings"
)

// cuePhrases gate extraction: a turn pair is only scanned when the user text
// contains one of them. The original UI was German-localized but users mixed
// in English, so both sets are recognized.
var cuePhrases = []string{
	"merk dir",
	"merke dir",
	"nicht vergessen",
	"remember",
	"don't forget",
}

// pattern is one extraction rule. Each rule contributes at most one record
// per invocation; the first regexp match wins.
type pattern struct {
	key      string
	category Category
	re       *regexp.Regexp
}

// patterns are tried in a fixed order so repeated extraction over the same
// text is deterministic.
var patterns = []pattern{
	{
		key:      "name",
		category: CategoryPersonal,
		re:       regexp.MustCompile(`(?i)(?:ich hei(?:ß|ss)e|mein name ist|my name is|call me)\s+([\p{L}][\p{L}'-]*(?:\s[\p{L}][\p{L}'-]*)?)`),
	},
	{
		key:      "birthday",
		category: CategoryPersonal,
		re:       regexp.MustCompile(`(?i)(?:geburtstag ist am|ich habe am|born on|birthday is(?: on)?)\s+(\d{1,2}\.\s?\p{L}+(?:\s\d{4})?|\d{1,2}[./]\d{1,2}[./]\d{2,4}|\p{L}+\s\d{1,2}(?:,\s?\d{4})?)`),
	},
	{
		key:      "location",
		category: CategoryContext,
		re:       regexp.MustCompile(`(?i)(?:ich wohne in|ich lebe in|ich komme aus|i live in|i'?m from)\s+([\p{L}][\p{L} .'-]{0,60}?)(?:[,.;:!?]|\s+(?:und|and)\s|$)`),
	},
	{
		key:      "language",
		category: CategoryPreference,
		re:       regexp.MustCompile(`(?i)(?:ich spreche|i speak)\s+([\p{L}][\p{L}, ]{0,60})`),
	},
}

// Extract scans a completed turn pair for durable facts. It is pure and
// deterministic: same inputs, same candidate records (IDs and timestamps are
// assigned by the caller at save time). Returns nil when the user text
// carries no cue phrase.
func Extract(userText, assistantText string) []Record {
	if !hasCue(userText) {
		return nil
	}

	var records []Record
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(userText)
		if m == nil {
			continue
		}
		value := cleanValue(m[1])
		if value == "" {
			continue
		}
		records = append(records, Record{
			Key:      p.key,
			Value:    value,
			Category: p.category,
		})
	}
	return records
}

func hasCue(text string) bool {
	lower := strings.ToLower(text)
	for _, cue := range cuePhrases {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

// cleanValue trims surrounding whitespace and trailing sentence punctuation
// that the capture groups inevitably pick up.
func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimRight(v, ".,;:!?")
	return strings.TrimSpace(v)
}
