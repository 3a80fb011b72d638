// Package extract isolates the historical record a retrieval chunk came from.
//
// The retrieval service returns fixed-size windows of an export file in which
// records are separated by a line of dashes. Gluing a chunk together with its
// neighbouring windows yields a block that holds the wanted record plus pieces of
// unrelated records on either side; MostSimilarSection picks the wanted one.
package extract

import (
	"strings"
)

// Separator delimits records in the exported history files.
const Separator = "--------------------------------------------------------------"

// NotFound is returned when no section resembles the main text.
const NotFound = "Not found."

// Match is the outcome of a section search.
type Match struct {
	Section string  // trimmed text of the selected section
	Index   int     // position among the separator-delimited sections, -1 if none
	Ratio   float64 // similarity of the normalized section and main text
}

// Normalize lowercases s and collapses every whitespace run to a single space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// BestSection splits block on sep and returns the section most similar to text.
// Sections must score above zero to be chosen; ties keep the earlier section.
func BestSection(block, text, sep string) Match {
	best := Match{Index: -1}
	needle := Normalize(text)
	for i, section := range strings.Split(block, sep) {
		ratio := Ratio(needle, Normalize(section))
		if ratio > best.Ratio {
			best = Match{Section: strings.TrimSpace(section), Index: i, Ratio: ratio}
		}
	}
	return best
}

// MostSimilarSection returns the trimmed section of block that best matches text,
// or NotFound when nothing matches.
func MostSimilarSection(block, text string) string {
	m := BestSection(block, text, Separator)
	if m.Index < 0 || m.Section == "" {
		return NotFound
	}
	return m.Section
}

// Rebuild restores reading order for a chunk whose preceding fragments arrive
// newest first: reverse(previous) + text + next.
func Rebuild(text string, previous, next []string) string {
	var b strings.Builder
	for i := len(previous) - 1; i >= 0; i-- {
		b.WriteString(previous[i])
	}
	b.WriteString(text)
	for _, n := range next {
		b.WriteString(n)
	}
	return b.String()
}
