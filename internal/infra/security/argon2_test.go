package security

import (
	"strings"
	"testing"
)

func fastArgon2Config() Argon2Config {
	return Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestPasswordHasherHashAndVerify(t *testing.T) {
	hasher, err := NewPasswordHasher(fastArgon2Config())
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	encoded, err := hasher.Hash("pw123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}

	again, err := hasher.Hash("pw123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if again == encoded {
		t.Fatal("expected distinct salts per hash")
	}

	ok, err := hasher.Verify("pw123", encoded)
	if err != nil || !ok {
		t.Fatalf("expected password to verify, ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("wrong", encoded)
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}

func TestPasswordHasherRejectsMalformedHashes(t *testing.T) {
	hasher, err := NewPasswordHasher(fastArgon2Config())
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	for _, encoded := range []string{
		"plain",
		"bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaA",
		"argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaA",
		"argon2id$v=19$m=x,t=1,p=1$c2FsdHNhbHQ$aGFzaA",
	} {
		if ok, err := hasher.Verify("pw", encoded); err == nil || ok {
			t.Fatalf("expected error for %q, ok=%v err=%v", encoded, ok, err)
		}
	}
}

func TestNewPasswordHasherValidatesConfig(t *testing.T) {
	cfg := fastArgon2Config()
	cfg.Iterations = 0
	if _, err := NewPasswordHasher(cfg); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
}
