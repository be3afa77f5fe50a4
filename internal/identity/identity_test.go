package identity_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/identity"
)

func TestInternalIDStability(t *testing.T) {
	t.Parallel()

	first := identity.InternalID("123456789")
	second := identity.InternalID("123456789")
	if first != second {
		t.Fatalf("same external id mapped to different internal ids: %s vs %s", first, second)
	}

	other := identity.InternalID("987654321")
	if first == other {
		t.Fatalf("different external ids mapped to the same internal id %s", first)
	}
}

func TestInternalIDUUIDPassthrough(t *testing.T) {
	t.Parallel()

	raw := "c7e7f1d0-5a5d-5a5e-a2b0-914b8c42a3d7"
	got := identity.InternalID(raw)
	if got.String() != raw {
		t.Fatalf("canonical UUID input should pass through, got %s", got)
	}
}

func TestInternalIDTrimsWhitespace(t *testing.T) {
	t.Parallel()

	if identity.InternalID(" 42 ") != identity.InternalID("42") {
		t.Fatal("surrounding whitespace should not change the derived id")
	}
}

func TestCandidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantText   string
		wantSuffix string
	}{
		{
			name:       "uuid input",
			raw:        "AABBCCDD-0000-0000-0000-914B8C42A3D7",
			wantText:   "aabbccdd-0000-0000-0000-914b8c42a3d7",
			wantSuffix: "914b8c42a3d7",
		},
		{
			name:       "plain numeric id",
			raw:        "123456789",
			wantText:   "123456789",
			wantSuffix: "123456789",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			text, internal, suffix := identity.Candidates(tt.raw)
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if suffix != tt.wantSuffix {
				t.Errorf("suffix = %q, want %q", suffix, tt.wantSuffix)
			}
			if _, err := uuid.Parse(internal); err != nil {
				t.Errorf("internal candidate %q is not a canonical uuid: %v", internal, err)
			}
		})
	}
}

func TestSystemUserID(t *testing.T) {
	t.Parallel()

	if identity.SystemUserID != uuid.Nil {
		t.Fatalf("system user id should be the zero uuid, got %s", identity.SystemUserID)
	}
}
