package identity

import (
	"testing"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

func TestParseHistoryKind(t *testing.T) {
	for _, s := range []string{"medical", "ALLERGY", " Surgical ", "family", "social"} {
		if _, ok := ParseHistoryKind(s); !ok {
			t.Errorf("ParseHistoryKind(%q) rejected", s)
		}
	}
	if _, ok := ParseHistoryKind("DENTAL"); ok {
		t.Error("unknown kind accepted")
	}
}

func TestParseGender(t *testing.T) {
	if g, ok := ParseGender("female"); !ok || g != GenderFemale {
		t.Errorf("ParseGender = %q %v", g, ok)
	}
	if _, ok := ParseGender("X"); ok {
		t.Error("unknown gender accepted")
	}
}

func TestStaffUser_Principal(t *testing.T) {
	u := &StaffUser{ID: uuid.New(), Role: auth.RoleDoctor}
	p := u.Principal()
	if p.ID != u.ID || !p.IsDoctor() {
		t.Errorf("principal = %+v", p)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := normalizeEmail("  Dr.Silva@Clinic.LK "); got != "dr.silva@clinic.lk" {
		t.Errorf("normalizeEmail = %q", got)
	}
}
