package domain

import "testing"

func TestExactlyOneSideInitiates(t *testing.T) {
	pairs := []struct {
		name string
		a, b PairRole
	}{
		{"group join", RoleNewcomer, RoleExisting},
		{"direct call", RoleDirectCaller, RoleDirectCallee},
	}
	for _, p := range pairs {
		t.Run(p.name, func(t *testing.T) {
			if SendsFirstOffer(p.a) == SendsFirstOffer(p.b) {
				t.Fatalf("both sides of %s agree, offers would collide or never happen", p.name)
			}
		})
	}
}

func TestParseMediaKind(t *testing.T) {
	if k, err := ParseMediaKind("audio"); err != nil || k != MediaAudio {
		t.Fatalf("audio = %v, %v", k, err)
	}
	if k, err := ParseMediaKind("video"); err != nil || k != MediaVideo {
		t.Fatalf("video = %v, %v", k, err)
	}
	if _, err := ParseMediaKind("hologram"); err == nil {
		t.Fatal("unknown kind must fail")
	}
	if _, err := ParseMediaKind(""); err == nil {
		t.Fatal("empty kind must fail")
	}
}

func TestNewUserValidation(t *testing.T) {
	if _, err := NewUser("u1", ""); err != ErrUsernameEmpty {
		t.Fatalf("empty username = %v", err)
	}
	long := make([]byte, MaxUsernameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := NewUser("u1", string(long)); err != ErrUsernameTooLong {
		t.Fatalf("long username = %v", err)
	}
	u, err := NewUser("u1", "alice")
	if err != nil || u.Username != "alice" {
		t.Fatalf("NewUser = %+v, %v", u, err)
	}
}
