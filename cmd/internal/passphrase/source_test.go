package passphrase

import (
	"strings"
	"testing"
)

func TestSourceUsesEnvironment(t *testing.T) {
	t.Setenv("ESCROWCTL_TEST_PASS", "correct horse")
	src := NewSource("ESCROWCTL_TEST_PASS", "exchange")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "correct horse" {
		t.Fatalf("unexpected passphrase %q", got)
	}

	t.Setenv("ESCROWCTL_TEST_PASS", "changed")
	if again, _ := src.Get(); again != "correct horse" {
		t.Fatalf("expected cached passphrase, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("ESCROWCTL_TEST_PASS", "   ")
	_, err := NewSource("ESCROWCTL_TEST_PASS", "").Get()
	if err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty passphrase error, got %v", err)
	}
}
