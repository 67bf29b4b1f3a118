package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stroymon/stroymon-engine/pkg/apperrors"
	"github.com/stroymon/stroymon-engine/pkg/models"
)

func TestSplitAttribute(t *testing.T) {
	tests := []struct {
		name     string
		family   models.TaxonomyFamily
		label    string
		wantNode string
		wantKind AttributeKind
		wantOK   bool
	}{
		{
			name:     "stage bare plan suffix is a percent",
			family:   models.FamilyStage,
			label:    "Монолитные работы (план)",
			wantNode: "Монолитные работы",
			wantKind: AttrPlanPercent,
			wantOK:   true,
		},
		{
			name:     "stage bare fact suffix is a percent",
			family:   models.FamilyStage,
			label:    "Монолитные работы (факт)",
			wantNode: "Монолитные работы",
			wantKind: AttrFactPercent,
			wantOK:   true,
		},
		{
			name:     "stage explicit percent suffix",
			family:   models.FamilyStage,
			label:    "Фасадные работы % (план)",
			wantNode: "Фасадные работы",
			wantKind: AttrPlanPercent,
			wantOK:   true,
		},
		{
			name:     "stage date suffix wins over bare plan",
			family:   models.FamilyStage,
			label:    "Фасадные работы начало (план)",
			wantNode: "Фасадные работы",
			wantKind: AttrPlanStart,
			wantOK:   true,
		},
		{
			name:     "control point bare plan suffix is a finish date",
			family:   models.FamilyControlPoint,
			label:    "Получение РНС (план)",
			wantNode: "Получение РНС",
			wantKind: AttrPlanFinish,
			wantOK:   true,
		},
		{
			name:     "control point explicit finish fact",
			family:   models.FamilyControlPoint,
			label:    "Получение РНС окончание (факт)",
			wantNode: "Получение РНС",
			wantKind: AttrFactFinish,
			wantOK:   true,
		},
		{
			name:     "control point status",
			family:   models.FamilyControlPoint,
			label:    "Получение РНС статус",
			wantNode: "Получение РНС",
			wantKind: AttrStatus,
			wantOK:   true,
		},
		{
			name:     "control point performer",
			family:   models.FamilyControlPoint,
			label:    "Получение РНС исполнитель",
			wantNode: "Получение РНС",
			wantKind: AttrPerformer,
			wantOK:   true,
		},
		{
			name:     "compound label keeps delimiter in node name",
			family:   models.FamilyControlPoint,
			label:    "Благоустройство:: Озеленение (план)",
			wantNode: "Благоустройство:: Озеленение",
			wantKind: AttrPlanFinish,
			wantOK:   true,
		},
		{
			name:   "no recognized suffix",
			family: models.FamilyStage,
			label:  "Прочее поле",
			wantOK: false,
		},
		{
			name:   "suffix with no node name",
			family: models.FamilyStage,
			label:  "(план)",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, kind, ok := SplitAttribute(tt.family, tt.label)
			if ok != tt.wantOK {
				t.Fatalf("SplitAttribute(%q) ok = %v, want %v", tt.label, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if node != tt.wantNode {
				t.Errorf("node = %q, want %q", node, tt.wantNode)
			}
			if kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", kind, tt.wantKind)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	day := func(y int, m time.Month, d int) *time.Time {
		t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &t
	}

	tests := []struct {
		name string
		raw  any
		want *time.Time
	}{
		{"iso date", "2024-03-15", day(2024, time.March, 15)},
		{"iso datetime", "2024-03-15T10:30:00", day(2024, time.March, 15)},
		{"locale date", "15.03.2024", day(2024, time.March, 15)},
		{"locale datetime", "15.03.2024 10:30:00", day(2024, time.March, 15)},
		{"excel serial number", 45366.0, day(2024, time.March, 15)},
		{"excel serial int", 45366, day(2024, time.March, 15)},
		{"excel serial as text", "45366", day(2024, time.March, 15)},
		{"excel serial below range", 100.0, nil},
		{"excel serial above range", 100000.0, nil},
		{"nil", nil, nil},
		{"empty string", "", nil},
		{"null string", "null", nil},
		{"dash", "-", nil},
		{"garbage", "not a date", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDate(tt.raw)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("ParseDate(%v) = %v, want %v", tt.raw, got, tt.want)
			}
			if got != nil && !got.Equal(*tt.want) {
				t.Errorf("ParseDate(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseEditTimestamp(t *testing.T) {
	got, err := ParseEditTimestamp("15.03.2024 10:30:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	for _, raw := range []any{nil, "", "null", 42, "not a timestamp"} {
		if _, err := ParseEditTimestamp(raw); !errors.Is(err, apperrors.ErrMissingField) {
			t.Errorf("ParseEditTimestamp(%v) error = %v, want ErrMissingField", raw, err)
		}
	}
}

func TestParsePercent(t *testing.T) {
	intp := func(v int) *int { return &v }

	tests := []struct {
		name string
		raw  any
		want *int
	}{
		{"plain int", 42, intp(42)},
		{"float rounds", 41.6, intp(42)},
		{"string with percent sign", "42%", intp(42)},
		{"string with comma decimal", "41,6", intp(42)},
		{"clamped above", 150.0, intp(100)},
		{"zero is absent", 0, nil},
		{"zero string is absent", "0", nil},
		{"empty string", "", nil},
		{"garbage", "много", nil},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePercent(tt.raw)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("ParsePercent(%v) = %v, want %v", tt.raw, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("ParsePercent(%v) = %d, want %d", tt.raw, *got, *tt.want)
			}
		})
	}
}

func TestParseNumber(t *testing.T) {
	got := ParseNumber("1 234 567,89")
	if got == nil || *got != 1234567.89 {
		t.Errorf("ParseNumber with spaces and comma = %v, want 1234567.89", got)
	}
	if got := ParseNumber(0.0); got != nil {
		t.Errorf("ParseNumber(0) = %v, want nil", got)
	}
	if got := ParseNumber("n/a"); got != nil {
		t.Errorf("ParseNumber(garbage) = %v, want nil", got)
	}
}

func TestValidateUIN(t *testing.T) {
	valid := []string{"01-123456", "77-000001", " 77-000001 "}
	for _, raw := range valid {
		if _, err := ValidateUIN(raw); err != nil {
			t.Errorf("ValidateUIN(%q) unexpected error: %v", raw, err)
		}
	}

	invalid := []string{"", "0", "null", "-", "77 000001", "77-00,001", "7-123456", "77-12345", "abc-123456"}
	for _, raw := range invalid {
		if _, err := ValidateUIN(raw); !errors.Is(err, apperrors.ErrInvalidIdentifier) {
			t.Errorf("ValidateUIN(%q) error = %v, want ErrInvalidIdentifier", raw, err)
		}
	}
}

func TestValidateMasterCode(t *testing.T) {
	valid := []string{"MSK-2024-01", "A1/B2-C3", "ABC123"}
	for _, raw := range valid {
		if _, err := ValidateMasterCode(raw); err != nil {
			t.Errorf("ValidateMasterCode(%q) unexpected error: %v", raw, err)
		}
	}

	invalid := []string{"", "0", "null", "AB", "has space", "has,comma", "-leading"}
	for _, raw := range invalid {
		if _, err := ValidateMasterCode(raw); !errors.Is(err, apperrors.ErrInvalidIdentifier) {
			t.Errorf("ValidateMasterCode(%q) error = %v, want ErrInvalidIdentifier", raw, err)
		}
	}
}
