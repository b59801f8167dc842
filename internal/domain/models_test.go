package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIdentityValidate(t *testing.T) {
	cases := []struct {
		name string
		id   Identity
		want error
	}{
		{"user", Identity{UserID: "u1"}, nil},
		{"guest", Identity{Nickname: " Max "}, nil},
		{"empty", Identity{Nickname: "   "}, ErrEmptyIdentity},
		{"both", Identity{UserID: "u1", Nickname: "Max"}, ErrAmbiguousIdentity},
		{"short", Identity{Nickname: "M"}, ErrNicknameTooShort},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.id.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestIdentifierForPrefersUserID(t *testing.T) {
	if got := IdentifierFor(Participant{UserID: "u1"}); got != "u1" {
		t.Fatalf("expected u1, got %s", got)
	}
	if got := IdentifierFor(Participant{Nickname: "Max"}); got != "Max" {
		t.Fatalf("expected Max, got %s", got)
	}
}

func TestKindOf(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrLateSubmission)
	if KindOf(wrapped) != KindConflict {
		t.Fatalf("expected conflict kind for wrapped error")
	}
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Fatalf("expected unknown kind for plain error")
	}
	if KindNotFound.String() != "not_found" {
		t.Fatalf("unexpected kind string %q", KindNotFound.String())
	}
	lost := fmt.Errorf("%w: connection reset", ErrPatchDelivery)
	if KindOf(lost) != KindTransientDelivery || KindTransientDelivery.String() != "transient_delivery" {
		t.Fatalf("expected transient delivery kind, got %v", KindOf(lost))
	}
}
