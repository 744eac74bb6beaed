package collector

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestLoadOrCreateSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "device-secret.key")

	first, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSecret: %v", err)
	}
	if !deviceSecretRe.MatchString(first) {
		t.Fatalf("secret = %q, want 64 hex chars", first)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("perm = %o, want 600", info.Mode().Perm())
		}
	}

	second, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Fatalf("secret changed between loads: %q != %q", second, first)
	}
}

func TestLoadOrCreateSecretReplacesInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device-secret.key")
	if err := os.WriteFile(path, []byte("short"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatal(err)
	}
	if got == "short" || !deviceSecretRe.MatchString(got) {
		t.Fatalf("secret = %q, want regenerated", got)
	}
}

func TestBuckets(t *testing.T) {
	cpu := map[int]string{0: "unknown", 2: "1-2", 4: "3-4", 8: "5-8", 12: "9-16", 64: "17+"}
	for in, want := range cpu {
		if got := CPUBucket(in); got != want {
			t.Fatalf("CPUBucket(%d) = %q, want %q", in, got, want)
		}
	}
	const gib = 1 << 30
	mem := map[uint64]string{0: "unknown", 2 * gib: "<4gb", 4 * gib: "4-8gb", 15 * gib: "8-16gb", 16 * gib: "16-32gb", 64 * gib: "32gb+"}
	for in, want := range mem {
		if got := MemoryBucket(in); got != want {
			t.Fatalf("MemoryBucket(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectSignals(t *testing.T) {
	env := map[string]string{"CI": "1", "KUBERNETES_SERVICE_HOST": "10.0.0.1"}
	got := detectSignals(
		func(k string) string { return env[k] },
		func(string) bool { return false },
		func(string) ([]byte, error) { return nil, errors.New("absent") },
	)
	if len(got) != 2 || got[0] != "ci" || got[1] != "kubernetes" {
		t.Fatalf("signals = %v, want [ci kubernetes]", got)
	}
}

func TestReadIdentity(t *testing.T) {
	id, err := ReadIdentity(filepath.Join(t.TempDir(), "device-secret.key"))
	if err != nil {
		t.Fatal(err)
	}
	if id.DeviceLabel != id.DeviceProfile.Hostname {
		t.Fatalf("label %q != hostname %q", id.DeviceLabel, id.DeviceProfile.Hostname)
	}
	if len(id.DeviceLabel) > maxDeviceLabel {
		t.Fatalf("label too long: %d", len(id.DeviceLabel))
	}
	if id.DeviceProfile.Signals == nil {
		t.Fatal("signals should be an empty list, not null")
	}
}
