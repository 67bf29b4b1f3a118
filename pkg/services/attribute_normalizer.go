// Package services implements the reconciliation engine: taxonomy
// resolution, attribute normalization, conflict-resolving upserts, hierarchy
// synchronization and risk derivation.
package services

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stroymon/stroymon-engine/pkg/apperrors"
	"github.com/stroymon/stroymon-engine/pkg/jsonutil"
	"github.com/stroymon/stroymon-engine/pkg/models"
)

// AttributeKind classifies what a feed label tracks once its node name is
// stripped off.
type AttributeKind int

const (
	AttrUnknown AttributeKind = iota
	AttrPlanPercent
	AttrFactPercent
	AttrPlanStart
	AttrFactStart
	AttrPlanFinish
	AttrFactFinish
	AttrStatus
	AttrPerformer
)

// String returns a short name for logging.
func (k AttributeKind) String() string {
	switch k {
	case AttrPlanPercent:
		return "plan_percent"
	case AttrFactPercent:
		return "fact_percent"
	case AttrPlanStart:
		return "plan_start"
	case AttrFactStart:
		return "fact_start"
	case AttrPlanFinish:
		return "plan_finish"
	case AttrFactFinish:
		return "fact_finish"
	case AttrStatus:
		return "status"
	case AttrPerformer:
		return "performer"
	default:
		return "unknown"
	}
}

// attributeSuffix maps a label suffix convention to an attribute kind.
// Longer suffixes are listed first so "начало (план)" wins over "(план)".
type attributeSuffix struct {
	suffix string
	kind   AttributeKind
}

var dateSuffixes = []attributeSuffix{
	{"начало (план)", AttrPlanStart},
	{"начало (факт)", AttrFactStart},
	{"окончание (план)", AttrPlanFinish},
	{"окончание (факт)", AttrFactFinish},
}

// Bare "(план)"/"(факт)" means a percentage for stages but a milestone
// finish date for control points; the two catalogs follow different feed
// conventions.
var stageSuffixes = append(append([]attributeSuffix{}, dateSuffixes...),
	attributeSuffix{"% (план)", AttrPlanPercent},
	attributeSuffix{"% (факт)", AttrFactPercent},
	attributeSuffix{"(план)", AttrPlanPercent},
	attributeSuffix{"(факт)", AttrFactPercent},
)

var controlPointSuffixes = append(append([]attributeSuffix{}, dateSuffixes...),
	attributeSuffix{"(план)", AttrPlanFinish},
	attributeSuffix{"(факт)", AttrFactFinish},
	attributeSuffix{"статус", AttrStatus},
	attributeSuffix{"исполнитель", AttrPerformer},
)

// SplitAttribute splits a prefix-stripped feed label into the taxonomy node
// name and the attribute kind its value carries. Returns ok=false when no
// suffix convention matches; the caller treats that as an unknown mapping.
func SplitAttribute(family models.TaxonomyFamily, label string) (nodeName string, kind AttributeKind, ok bool) {
	suffixes := stageSuffixes
	if family == models.FamilyControlPoint {
		suffixes = controlPointSuffixes
	}

	trimmed := strings.TrimSpace(label)
	lower := strings.ToLower(trimmed)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			name := strings.TrimSpace(trimmed[:len(trimmed)-len(s.suffix)])
			if name == "" {
				return "", AttrUnknown, false
			}
			return name, s.kind, true
		}
	}
	return "", AttrUnknown, false
}

// IsDateKind reports whether the kind carries a date value.
func (k AttributeKind) IsDateKind() bool {
	switch k {
	case AttrPlanStart, AttrFactStart, AttrPlanFinish, AttrFactFinish:
		return true
	}
	return false
}

// IsPercentKind reports whether the kind carries a percentage value.
func (k AttributeKind) IsPercentKind() bool {
	return k == AttrPlanPercent || k == AttrFactPercent
}

// Source date layouts seen across the feeds, tried in order.
var dateLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
}

// excelEpoch is day zero of the 1900 date system (with the Lotus leap-year
// bug already folded in).
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// ParseDate normalizes a raw feed value into a date. It accepts ISO-like
// strings, locale-formatted strings and Excel serial numbers; anything
// unparseable is treated as absent (nil), never as an error.
func ParseDate(raw any) *time.Time {
	switch v := raw.(type) {
	case nil:
		return nil
	case time.Time:
		if v.IsZero() {
			return nil
		}
		d := truncateToDay(v)
		return &d
	case string:
		s := strings.TrimSpace(v)
		if isEmptyString(s) {
			return nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				d := truncateToDay(t)
				return &d
			}
		}
		// Bare Excel serial rendered as text.
		if serial, err := strconv.ParseFloat(s, 64); err == nil {
			return excelSerialDate(serial)
		}
		return nil
	case float64:
		return excelSerialDate(v)
	case int:
		return excelSerialDate(float64(v))
	case int64:
		return excelSerialDate(float64(v))
	default:
		return nil
	}
}

// excelSerialDate converts an Excel serial day number to a date. Values
// outside 1950-2100 are rejected: they are far more likely stray numerics
// than real dates.
func excelSerialDate(serial float64) *time.Time {
	if serial < 18264 || serial > 73415 {
		return nil
	}
	d := excelEpoch.AddDate(0, 0, int(serial))
	return &d
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Edit-timestamp layouts. Unlike attribute dates, the edit timestamp is a
// required field, so failure to parse is an error for the record.
var timestampLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2006-01-02",
	"02.01.2006",
}

// ParseEditTimestamp parses the per-record edit timestamp.
func ParseEditTimestamp(raw any) (time.Time, error) {
	s, ok := raw.(string)
	if !ok || isEmptyString(strings.TrimSpace(s)) {
		return time.Time{}, fmt.Errorf("%w: edit timestamp", apperrors.ErrMissingField)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable edit timestamp %q", apperrors.ErrMissingField, s)
}

// ParsePercent normalizes a raw feed value into an integer percentage,
// clamped to [0, 100]. Non-numeric input is treated as absent. Zero is also
// treated as absent: the feeds emit 0 for "no data", and the upsert rule
// forbids empty values from erasing stored ones.
func ParsePercent(raw any) *int {
	var f float64
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%"))
		s = strings.ReplaceAll(s, ",", ".")
		if isEmptyString(s) {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}

	if f == 0 {
		return nil
	}
	p := int(math.Round(f))
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return &p
}

// ParseNumber normalizes a raw money or area value. Zero and non-numeric
// input are treated as absent.
func ParseNumber(raw any) *float64 {
	var f float64
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(v), " ", "")
		s = strings.ReplaceAll(s, ",", ".")
		if isEmptyString(s) {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if f == 0 {
		return nil
	}
	return &f
}

// ParseString normalizes a raw text value; empty and "null"-like values are
// absent. Numeric and boolean cells are coerced to their text form.
func ParseString(raw any) *string {
	s := strings.TrimSpace(jsonutil.CellString(raw))
	if isEmptyString(s) {
		return nil
	}
	return &s
}

func isEmptyString(s string) bool {
	switch strings.ToLower(s) {
	case "", "null", "nil", "-", "0":
		return true
	}
	return false
}

var (
	uinPattern        = regexp.MustCompile(`^\d{2}-\d{6}$`)
	masterCodePattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z/-]{2,31}$`)
)

// ValidateUIN checks the external formatted identifier of a project.
// A failure aborts processing of the one record carrying it.
func ValidateUIN(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if isEmptyString(s) {
		return "", fmt.Errorf("%w: empty UIN", apperrors.ErrInvalidIdentifier)
	}
	if strings.ContainsAny(s, " \t,") {
		return "", fmt.Errorf("%w: UIN %q contains whitespace or commas", apperrors.ErrInvalidIdentifier, raw)
	}
	if !uinPattern.MatchString(s) {
		return "", fmt.Errorf("%w: UIN %q does not match NN-NNNNNN", apperrors.ErrInvalidIdentifier, raw)
	}
	return s, nil
}

// ValidateMasterCode checks the alternate identifier used by the SMG feed.
func ValidateMasterCode(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if isEmptyString(s) {
		return "", fmt.Errorf("%w: empty master-code", apperrors.ErrInvalidIdentifier)
	}
	if strings.ContainsAny(s, " \t,") {
		return "", fmt.Errorf("%w: master-code %q contains whitespace or commas", apperrors.ErrInvalidIdentifier, raw)
	}
	if !masterCodePattern.MatchString(s) {
		return "", fmt.Errorf("%w: master-code %q has invalid format", apperrors.ErrInvalidIdentifier, raw)
	}
	return s, nil
}
