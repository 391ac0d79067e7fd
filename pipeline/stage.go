package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Stage is the processing state reached by one image. Stages are only ever
// entered in order.
type Stage int

const (
	StagePending Stage = iota
	StageLoaded
	StageDetected
	StageSegmented
	StageRefined
	StageComposited
	StageEncoded
)

var stageNames = [...]string{
	StagePending:    "pending",
	StageLoaded:     "loaded",
	StageDetected:   "detected",
	StageSegmented:  "segmented",
	StageRefined:    "refined",
	StageComposited: "composited",
	StageEncoded:    "encoded",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// Capitalize upper-cases the first letter of s and lower-cases the rest.
func Capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// NormalizeLabel turns a category name into the period-terminated phrase the
// detection collaborator expects, e.g. "rugs" becomes "Rugs.".
func NormalizeLabel(category string) string {
	label := Capitalize(category)
	if label == "" || strings.HasSuffix(label, ".") {
		return label
	}
	return label + "."
}
