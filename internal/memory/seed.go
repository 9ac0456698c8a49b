package memory

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"faden/internal/chat"
)

// maxSeedChars caps the seeded context to stay well under the provider's
// budget (~500 tokens at 4 chars/token).
const maxSeedChars = 2000

// Summary renders stored records into a compact context block suitable for a
// system turn. Records are grouped by category and sorted by key inside each
// group so the output is deterministic.
func Summary(records []Record) string {
	if len(records) == 0 {
		return ""
	}

	byCategory := make(map[Category][]Record)
	for _, r := range records {
		byCategory[r.Category] = append(byCategory[r.Category], r)
	}

	var parts []string
	for _, cat := range []Category{CategoryPersonal, CategoryPreference, CategoryContext, CategoryOther} {
		group := byCategory[cat]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Key < group[j].Key })
		for _, r := range group {
			parts = append(parts, fmt.Sprintf("%s: %s", r.Key, r.Value))
		}
	}

	summary := "Bekannte Fakten über den Benutzer — " + strings.Join(parts, "; ")
	if len(summary) > maxSeedChars {
		end := maxSeedChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], ";"); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

// SeedTurn builds the leading system turn for a fresh thread. Returns false
// when there is nothing to seed.
func SeedTurn(records []Record) (chat.Turn, bool) {
	summary := Summary(records)
	if summary == "" {
		return chat.Turn{}, false
	}
	return chat.Turn{Role: chat.RoleSystem, Content: summary}, true
}
