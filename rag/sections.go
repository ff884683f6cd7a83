package rag

import (
	"regexp"
	"strings"

	"clinrag/types"
)

// Header vocabulary recognized in clinical notes. Each pattern allows a
// trailing colon and whitespace. Matching is case-insensitive and order
// independent; repeated headers yield repeated sections.
var sectionHeaders = []string{
	`HISTORY OF PRESENT ILLNESS[:\s]*`,
	`HPI[:\s]*`,
	`PAST MEDICAL HISTORY[:\s]*`,
	`MEDICAL HISTORY[:\s]*`,
	`PHYSICAL EXAMINATION[:\s]*`,
	`PHYSICAL EXAM[:\s]*`,
	`ASSESSMENT[:\s]*`,
	`PLAN[:\s]*`,
	`LABORATORY[:\s]*`,
	`LABS[:\s]*`,
	`IMAGING[:\s]*`,
	`MEDICATIONS[:\s]*`,
	`ALLERGIES[:\s]*`,
	`ROS[:\s]*`,
}

var headerRe = regexp.MustCompile(`(?i)(` + strings.Join(sectionHeaders, "|") + `)`)

// SplitIntoSections splits a clinical note at every recognized header.
// Text before the first header is kept as an UNLABELED section when
// non-empty; input with no header at all becomes a single UNLABELED
// section holding the trimmed text. Never fails, any input degrades to
// UNLABELED. Header keywords are matched wherever they occur, including
// inside running text; callers get the literal split, not a guess at
// intent.
func SplitIntoSections(text string) []types.Section {
	if strings.TrimSpace(text) == "" {
		return []types.Section{{Label: types.UnlabeledSection, Body: ""}}
	}

	matches := headerRe.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return []types.Section{{Label: types.UnlabeledSection, Body: strings.TrimSpace(text)}}
	}

	var sections []types.Section
	if lead := strings.TrimSpace(text[:matches[0][0]]); lead != "" {
		sections = append(sections, types.Section{Label: types.UnlabeledSection, Body: lead})
	}

	for i, m := range matches {
		label := strings.ToUpper(strings.TrimSpace(text[m[0]:m[1]]))
		label = strings.TrimRight(label, ":")
		if label == "" {
			label = types.UnlabeledSection
		}
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections = append(sections, types.Section{
			Label: label,
			Body:  strings.TrimSpace(text[m[1]:end]),
		})
	}
	return sections
}
