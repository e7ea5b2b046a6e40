package room

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestNewVerifyCode_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z]+-[a-z]+-\d{3}$`)
	for i := 0; i < 100; i++ {
		code := NewVerifyCode()
		if !pattern.MatchString(code) {
			t.Fatalf("verify code %q does not match word-word-ddd", code)
		}
	}
}

func TestNewVerifyCode_WordsFromDictionary(t *testing.T) {
	inDict := make(map[string]bool, len(codeWords))
	for _, w := range codeWords {
		inDict[w] = true
	}

	for i := 0; i < 50; i++ {
		parts := strings.Split(NewVerifyCode(), "-")
		if len(parts) != 3 {
			t.Fatalf("expected 3 parts, got %v", parts)
		}
		if !inDict[parts[0]] || !inDict[parts[1]] {
			t.Fatalf("code words %q/%q not in dictionary", parts[0], parts[1])
		}
	}
}

func TestRoom_PartnerAndSide(t *testing.T) {
	r := &Room{ID: "r1", User1: "alice", User2: "bob"}

	if got := r.Partner("alice"); got != "bob" {
		t.Errorf("Partner(alice) = %q, want bob", got)
	}
	if got := r.Partner("bob"); got != "alice" {
		t.Errorf("Partner(bob) = %q, want alice", got)
	}
	if got := r.Partner("mallory"); got != "" {
		t.Errorf("Partner(outsider) = %q, want empty", got)
	}

	if got := r.SideOf("alice"); got != "a" {
		t.Errorf("SideOf(alice) = %q, want a", got)
	}
	if got := r.SideOf("bob"); got != "b" {
		t.Errorf("SideOf(bob) = %q, want b", got)
	}
	if got := r.SideOf("mallory"); got != "" {
		t.Errorf("SideOf(outsider) = %q, want empty", got)
	}
}

func TestRoom_Expired(t *testing.T) {
	now := time.Now()
	r := &Room{ExpiresAt: now.Add(time.Hour).Unix()}
	if r.Expired(now) {
		t.Error("room should not be expired an hour early")
	}
	if !r.Expired(now.Add(2 * time.Hour)) {
		t.Error("room should be expired after its expiry")
	}
}

func TestVerifyState_BothVerified(t *testing.T) {
	if (VerifyState{VerifiedA: true}).BothVerified() {
		t.Error("one side is not both")
	}
	if !(VerifyState{VerifiedA: true, VerifiedB: true}).BothVerified() {
		t.Error("both sides should report both verified")
	}
}
