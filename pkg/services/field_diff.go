package services

import (
	"strconv"
	"strings"
	"time"

	"github.com/stroymon/stroymon-engine/pkg/models"
)

// fieldDiff accumulates field-level changes while merging an incoming record
// into a stored row. The merge helpers enforce the non-destructive rule:
// absent incoming values (nil after normalization) never touch stored state.
type fieldDiff struct {
	changes map[string]models.FieldChange
}

func newFieldDiff() *fieldDiff {
	return &fieldDiff{changes: make(map[string]models.FieldChange)}
}

func (d *fieldDiff) empty() bool {
	return len(d.changes) == 0
}

func (d *fieldDiff) changed(field string) bool {
	_, ok := d.changes[field]
	return ok
}

// mergeString applies an incoming string to a stored field, recording a
// change when the trimmed values differ.
func (d *fieldDiff) mergeString(field string, stored **string, incoming *string) {
	if incoming == nil {
		return
	}
	newVal := strings.TrimSpace(*incoming)
	if *stored != nil && strings.TrimSpace(**stored) == newVal {
		return
	}
	d.record(field, strPtrValue(*stored), newVal)
	*stored = &newVal
}

// mergeInt applies an incoming integer (percentages).
func (d *fieldDiff) mergeInt(field string, stored **int, incoming *int) {
	if incoming == nil {
		return
	}
	if *stored != nil && **stored == *incoming {
		return
	}
	d.record(field, intPtrValue(*stored), strconv.Itoa(*incoming))
	v := *incoming
	*stored = &v
}

// mergeFloat applies an incoming numeric (money, areas).
func (d *fieldDiff) mergeFloat(field string, stored **float64, incoming *float64) {
	if incoming == nil {
		return
	}
	if *stored != nil && **stored == *incoming {
		return
	}
	d.record(field, floatPtrValue(*stored), formatFloat(*incoming))
	v := *incoming
	*stored = &v
}

// mergeDate applies an incoming date, comparing at day granularity.
func (d *fieldDiff) mergeDate(field string, stored **time.Time, incoming *time.Time) {
	if incoming == nil {
		return
	}
	newVal := truncateToDay(*incoming)
	if *stored != nil && truncateToDay(**stored).Equal(newVal) {
		return
	}
	d.record(field, datePtrValue(*stored), newVal.Format("2006-01-02"))
	*stored = &newVal
}

// record stores old/new as strings so the change log is stable and
// queryable with jsonb text operators.
func (d *fieldDiff) record(field string, old, new string) {
	d.changes[field] = models.FieldChange{Old: old, New: new}
}

func strPtrValue(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func intPtrValue(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func floatPtrValue(p *float64) string {
	if p == nil {
		return ""
	}
	return formatFloat(*p)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func datePtrValue(p *time.Time) string {
	if p == nil {
		return ""
	}
	return truncateToDay(*p).Format("2006-01-02")
}
