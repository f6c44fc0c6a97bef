package webhook

import (
	"strings"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"event":"pull_request","repo":"o/r","pr":7}`)
	sig := Sign("topsecret", body)

	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("expected sha256= prefix, got %q", sig)
	}
	if !Verify("topsecret", body, sig) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifyRejectsMutations(t *testing.T) {
	body := []byte(`{"event":"reminder","text":"hello"}`)
	sig := Sign("topsecret", body)

	mutatedBody := []byte(`{"event":"reminder","text":"Hello"}`)
	if Verify("topsecret", mutatedBody, sig) {
		t.Error("expected mutated body to fail verification")
	}

	mutatedSig := []byte(sig)
	mutatedSig[len(mutatedSig)-1] ^= 0x01
	if Verify("topsecret", body, string(mutatedSig)) {
		t.Error("expected mutated signature to fail verification")
	}

	if Verify("other-secret", body, sig) {
		t.Error("expected wrong secret to fail verification")
	}
}

func TestVerifyRequiresSecretAndHeader(t *testing.T) {
	body := []byte(`{}`)

	if Verify("", body, Sign("", body)) {
		t.Error("expected empty secret to fail verification")
	}
	if Verify("topsecret", body, "") {
		t.Error("expected missing header to fail verification")
	}
}

func TestVerifyRequiresFullHeaderMatch(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign("topsecret", body)

	// The bare digest without the prefix must not verify.
	if Verify("topsecret", body, strings.TrimPrefix(sig, "sha256=")) {
		t.Error("expected prefix-less signature to fail verification")
	}
}
