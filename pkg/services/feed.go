package services

import (
	"strings"

	"github.com/stroymon/stroymon-engine/pkg/models"
)

// FeedKind identifies which source family a feed file belongs to. The kind is
// an explicit classification of the filename, not a dispatch on substrings
// scattered through the pipeline; each kind maps to one processing routine.
type FeedKind int

const (
	FeedUnknown FeedKind = iota
	// FeedOIV carries project-level attributes and the OIV stage percent
	// pair. The OIV feed is the system of record for project existence.
	FeedOIV
	// FeedSMG carries the SMG stage percent pair, keyed by master-code.
	FeedSMG
	// FeedControlPoints carries control-point milestone records.
	FeedControlPoints
)

// String returns a short name for logging.
func (k FeedKind) String() string {
	switch k {
	case FeedOIV:
		return "oiv"
	case FeedSMG:
		return "smg"
	case FeedControlPoints:
		return "control_points"
	default:
		return "unknown"
	}
}

// Filename markers of the source families.
var feedMarkers = []struct {
	marker string
	kind   FeedKind
}{
	{"оив", FeedOIV},
	{"oiv", FeedOIV},
	{"смг", FeedSMG},
	{"smg", FeedSMG},
	{"контрточк", FeedControlPoints},
	{"control", FeedControlPoints},
}

// ClassifyFeed determines the feed kind from a filename.
func ClassifyFeed(filename string) FeedKind {
	lower := strings.ToLower(filename)
	for _, m := range feedMarkers {
		if strings.Contains(lower, m.marker) {
			return m.kind
		}
	}
	return FeedUnknown
}

// Required per-record labels. The identifier and edit timestamp are
// mandatory; the username is optional and defaults to the parser actor.
const (
	labelUIN        = "УИН"
	labelMasterCode = "Мастер-код"
	labelEditedAt   = "Дата редактирования"
	labelUsername   = "Пользователь"
)

// Label prefixes marking taxonomy-resolved attributes. Control points come
// with two historical prefixes that mean the same catalog.
const (
	prefixStage         = "СТРЭТАП "
	prefixControlPoint  = "КОНТРТОЧКА "
	prefixCommonControl = "ОБЩКОНТРТОЧКА "
)

// metaLabel reports whether a label is record metadata rather than an
// attribute.
func metaLabel(label string) bool {
	switch label {
	case labelUIN, labelMasterCode, labelEditedAt, labelUsername:
		return true
	}
	return false
}

// stripTaxonomyPrefix returns the label with its taxonomy prefix removed and
// the family it belongs to. ok is false for unprefixed labels.
func stripTaxonomyPrefix(label string) (rest string, family models.TaxonomyFamily, ok bool) {
	if rest, found := strings.CutPrefix(label, prefixStage); found {
		return rest, models.FamilyStage, true
	}
	if rest, found := strings.CutPrefix(label, prefixControlPoint); found {
		return rest, models.FamilyControlPoint, true
	}
	if rest, found := strings.CutPrefix(label, prefixCommonControl); found {
		return rest, models.FamilyControlPoint, true
	}
	return "", "", false
}

// projectFieldSetter writes one normalized project-level value onto the
// incoming project snapshot.
type projectFieldSetter func(p *models.Project, raw any)

// projectFieldLabels maps OIV feed labels onto project scalar fields.
// Only the OIV feed carries these; for other feeds the labels fall through
// to the unknown-mapping channel.
var projectFieldLabels = map[string]projectFieldSetter{
	"Наименование объекта": func(p *models.Project, raw any) { p.Name = ParseString(raw) },
	"Адрес":                func(p *models.Project, raw any) { p.Address = ParseString(raw) },
	"Округ":                func(p *models.Project, raw any) { p.District = ParseString(raw) },
	"Застройщик":           func(p *models.Project, raw any) { p.Developer = ParseString(raw) },
	"Статус":               func(p *models.Project, raw any) { p.Status = ParseString(raw) },
	"Готовность (%)":       func(p *models.Project, raw any) { p.Readiness = ParsePercent(raw) },
	"Стоимость (руб.)":     func(p *models.Project, raw any) { p.BudgetRub = ParseNumber(raw) },
	"Финансирование (руб.)": func(p *models.Project, raw any) { p.FinancingRub = ParseNumber(raw) },
	"Общая площадь (кв.м)":  func(p *models.Project, raw any) { p.TotalAreaM2 = ParseNumber(raw) },
	"Жилая площадь (кв.м)":  func(p *models.Project, raw any) { p.LivingAreaM2 = ParseNumber(raw) },
	"Начало работ (план)":   func(p *models.Project, raw any) { p.PlanStart = ParseDate(raw) },
	"Начало работ (факт)":   func(p *models.Project, raw any) { p.FactStart = ParseDate(raw) },
	"Окончание работ (план)": func(p *models.Project, raw any) { p.PlanFinish = ParseDate(raw) },
	"Окончание работ (факт)": func(p *models.Project, raw any) { p.FactFinish = ParseDate(raw) },
}
