package common

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// binaryUnits folds the IEC spellings used by nyaa and 1337x onto the
// short ones; sizes are always read as powers of 1024.
var binaryUnits = strings.NewReplacer("TIB", "TB", "GIB", "GB", "MIB", "MB", "KIB", "KB")

// CleanHTMLText unescapes entities, strips tags and collapses whitespace.
func CleanHTMLText(raw string) string {
	value := strings.TrimSpace(raw)
	value = html.UnescapeString(value)
	value = tagPattern.ReplaceAllString(value, " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

// ParseHumanSize reads sizes such as "1.5 GiB" or "700 MB". A bare number
// is taken as bytes; anything unparsable is 0.
func ParseHumanSize(raw string) int64 {
	value := strings.TrimSpace(strings.ToUpper(raw))
	value = strings.ReplaceAll(value, "\u00a0", " ")
	value = binaryUnits.Replace(value)
	if value == "" {
		return 0
	}

	unit := ""
	number := value
	for _, suffix := range []string{"TB", "GB", "MB", "KB", "B"} {
		if strings.HasSuffix(number, suffix) {
			unit = suffix
			number = strings.TrimSpace(strings.TrimSuffix(number, suffix))
			break
		}
	}
	if unit == "" {
		if parsed, err := strconv.ParseInt(number, 10, 64); err == nil {
			return parsed
		}
		return 0
	}

	parsed, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", "."), 64)
	if err != nil || parsed < 0 {
		return 0
	}

	return int64(parsed * unitMultiplier[unit])
}

var unitMultiplier = map[string]float64{
	"B":  1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
}

// Atoi is strconv.Atoi that reads junk as 0.
func Atoi(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(strings.ReplaceAll(raw, ",", "")))
	if err != nil {
		return 0
	}
	return value
}
