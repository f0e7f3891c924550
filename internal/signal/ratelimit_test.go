package signal

import (
	"testing"
	"time"
)

func TestInviteLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newInviteLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("attempt %d should pass", i+1)
		}
	}
	if rl.Allow("alice") {
		t.Fatal("fourth attempt inside the window should be rejected")
	}
	if !rl.Allow("bob") {
		t.Fatal("limits are per user")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("alice") {
		t.Fatal("window has passed, attempts should pass again")
	}
}

func TestInviteLimiterDisabled(t *testing.T) {
	rl := newInviteLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !rl.Allow("alice") {
			t.Fatal("zero limit disables the limiter")
		}
	}
}
