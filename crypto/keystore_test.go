package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestKeystoreRoundTrip(t *testing.T) {
	key := mustKey(t)
	path := filepath.Join(t.TempDir(), "keys", "exchange.json")

	if err := SaveToKeystore(path, key, "pass", false); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("unexpected permissions %o", perm)
	}

	loaded, err := LoadFromKeystore(path, "pass")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Address() != key.Address() {
		t.Fatalf("address mismatch: %s != %s", loaded.Address().Hex(), key.Address().Hex())
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}

	if err := SaveToKeystore(path, mustKey(t), "pass", false); !errors.Is(err, ErrKeystoreExists) {
		t.Fatalf("expected ErrKeystoreExists, got %v", err)
	}
	replacement := mustKey(t)
	if err := SaveToKeystore(path, replacement, "pass", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	loaded, err = LoadFromKeystore(path, "pass")
	if err != nil {
		t.Fatalf("load replacement: %v", err)
	}
	if loaded.Address() != replacement.Address() {
		t.Fatalf("overwrite did not replace key")
	}
}
