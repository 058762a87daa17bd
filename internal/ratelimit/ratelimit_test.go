package ratelimit_test

import (
	"testing"

	"github.com/kcmh-his/sql-copilot/internal/ratelimit"
)

func TestIsBlockedFalseForUnknownIP(t *testing.T) {
	l := ratelimit.New()
	if l.IsBlocked("1.2.3.4") {
		t.Fatal("expected an IP with no history to not be blocked")
	}
}

func TestRecordFailureLocksOutAfterThreshold(t *testing.T) {
	l := ratelimit.New()
	for i := 0; i < 4; i++ {
		l.RecordFailure("1.2.3.4")
	}
	if l.IsBlocked("1.2.3.4") {
		t.Fatal("expected no lockout before the 5th failure")
	}

	l.RecordFailure("1.2.3.4")
	if !l.IsBlocked("1.2.3.4") {
		t.Fatal("expected a lockout on the 5th failure")
	}
	if l.RemainingSeconds("1.2.3.4") <= 0 {
		t.Error("expected a positive remaining lockout duration")
	}
}

func TestRecordSuccessClearsAttempts(t *testing.T) {
	l := ratelimit.New()
	for i := 0; i < 5; i++ {
		l.RecordFailure("1.2.3.4")
	}
	if !l.IsBlocked("1.2.3.4") {
		t.Fatal("expected the IP to be locked out before recording success")
	}

	l.RecordSuccess("1.2.3.4")
	if l.IsBlocked("1.2.3.4") {
		t.Fatal("expected RecordSuccess to clear the lockout")
	}
}

func TestLockoutDoesNotAffectOtherIPs(t *testing.T) {
	l := ratelimit.New()
	for i := 0; i < 5; i++ {
		l.RecordFailure("1.2.3.4")
	}
	if l.IsBlocked("5.6.7.8") {
		t.Fatal("expected an unrelated IP to remain unblocked")
	}
}
