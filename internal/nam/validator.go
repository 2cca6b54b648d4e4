// Package nam validates Québec health-insurance number candidates. It is
// pure and side-effect free so the validation stage of the pipeline can run
// it per candidate without any I/O.
package nam

import (
	"strings"
	"time"
	"unicode"
)

// DefaultVisitTime is assumed when the extraction model reports no time for
// a visit. Absence is inferred, not an error, so the sentinel is valid.
const DefaultVisitTime = "08:00"

const (
	ReasonWrongLength      = "wrong length"
	ReasonNonAlphaPrefix   = "non-alphabetic prefix"
	ReasonNonNumericSuffix = "non-numeric suffix"
	ReasonMissing          = "missing"
	ReasonUnparseable      = "unparseable"
)

// dateLayouts recognized for visit dates. The extraction model is prompted
// for ISO dates; the slash layouts tolerate model drift.
var dateLayouts = []string{"2006-01-02", "02/01/2006", "2006/01/02"}

// Result is the fully populated validity record for one candidate.
type Result struct {
	Token        string
	FormatValid  bool
	FormatReason string

	VisitDate  *string
	DateValid  bool
	DateReason string

	VisitTime  string
	TimeValid  bool
	TimeReason string
}

// Validate checks one raw candidate (token text plus optional date/time
// text) and returns the normalized token with every validity field set.
func Validate(rawToken, dateText, timeText string) Result {
	res := Result{}
	res.Token = strings.ToUpper(strings.TrimSpace(rawToken))
	res.FormatValid, res.FormatReason = checkFormat(res.Token)
	res.VisitDate, res.DateValid, res.DateReason = checkDate(dateText)
	res.VisitTime, res.TimeValid, res.TimeReason = checkTime(timeText)
	return res
}

// checkFormat requires exactly 4 alphabetic characters followed by 8 digits.
func checkFormat(token string) (bool, string) {
	if len(token) != 12 {
		return false, ReasonWrongLength
	}
	for _, r := range token[:4] {
		if !unicode.IsLetter(r) {
			return false, ReasonNonAlphaPrefix
		}
	}
	for _, r := range token[4:] {
		if !unicode.IsDigit(r) {
			return false, ReasonNonNumericSuffix
		}
	}
	return true, ""
}

func checkDate(dateText string) (*string, bool, string) {
	dateText = strings.TrimSpace(dateText)
	if dateText == "" {
		return nil, false, ReasonMissing
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, dateText); err == nil {
			normalized := parsed.Format("2006-01-02")
			return &normalized, true, ""
		}
	}
	return &dateText, false, ReasonUnparseable
}

func checkTime(timeText string) (string, bool, string) {
	timeText = strings.TrimSpace(timeText)
	if timeText == "" {
		return DefaultVisitTime, true, ""
	}
	if _, err := time.Parse("15:04", timeText); err != nil {
		return timeText, false, ReasonUnparseable
	}
	return timeText, true, ""
}
