package collector

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
)

const (
	deviceSecretBytes = 32
	maxDeviceLabel    = 128
)

var deviceSecretRe = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Identity travels with every delivery so the collector can attribute rows
// to a device without learning anything beyond coarse buckets.
type Identity struct {
	DeviceSecret  string  `json:"device_secret"`
	DeviceLabel   string  `json:"device_label"`
	DeviceProfile Profile `json:"device_profile"`
}

type Profile struct {
	Hostname     string   `json:"hostname"`
	Platform     string   `json:"platform"`
	Arch         string   `json:"arch"`
	OSVersion    string   `json:"osVersion"`
	CPUBucket    string   `json:"cpuBucket"`
	MemoryBucket string   `json:"memoryBucket"`
	Signals      []string `json:"signals"`
}

// LoadOrCreateSecret returns the device secret at path, creating a fresh one
// when the file is missing or invalid.
func LoadOrCreateSecret(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		existing := strings.ToLower(strings.TrimSpace(string(data)))
		if deviceSecretRe.MatchString(existing) {
			return existing, nil
		}
	}

	buf := make([]byte, deviceSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("collector: generate device secret: %w", err)
	}
	secret := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("collector: create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return "", fmt.Errorf("collector: write device secret: %w", err)
	}
	return secret, nil
}

func ReadIdentity(secretPath string) (Identity, error) {
	secret, err := LoadOrCreateSecret(secretPath)
	if err != nil {
		return Identity{}, err
	}
	host, _ := os.Hostname()
	if len(host) > maxDeviceLabel {
		host = host[:maxDeviceLabel]
	}
	return Identity{
		DeviceSecret: secret,
		DeviceLabel:  host,
		DeviceProfile: Profile{
			Hostname:     host,
			Platform:     platformName(runtime.GOOS),
			Arch:         archName(runtime.GOARCH),
			OSVersion:    osRelease(),
			CPUBucket:    CPUBucket(runtime.NumCPU()),
			MemoryBucket: MemoryBucket(totalMemory()),
			Signals:      detectSignals(os.Getenv, fileExists, os.ReadFile),
		},
	}, nil
}

// The collector expects Node-style platform and arch names.
func platformName(goos string) string {
	if goos == "windows" {
		return "win32"
	}
	return goos
}

func archName(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	}
	return goarch
}

func CPUBucket(cores int) string {
	switch {
	case cores <= 0:
		return "unknown"
	case cores <= 2:
		return "1-2"
	case cores <= 4:
		return "3-4"
	case cores <= 8:
		return "5-8"
	case cores <= 16:
		return "9-16"
	}
	return "17+"
}

func MemoryBucket(bytes uint64) string {
	if bytes == 0 {
		return "unknown"
	}
	gib := float64(bytes) / (1 << 30)
	switch {
	case gib < 4:
		return "<4gb"
	case gib < 8:
		return "4-8gb"
	case gib < 16:
		return "8-16gb"
	case gib < 32:
		return "16-32gb"
	}
	return "32gb+"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func detectSignals(getenv func(string) string, exists func(string) bool, readFile func(string) ([]byte, error)) []string {
	set := map[string]bool{}
	if getenv("CI") != "" {
		set["ci"] = true
	}
	if getenv("KUBERNETES_SERVICE_HOST") != "" {
		set["kubernetes"] = true
	}
	if getenv("CONTAINER") != "" {
		set["container"] = true
	}

	if runtime.GOOS == "linux" {
		if exists("/.dockerenv") {
			set["docker"] = true
			set["container"] = true
		}
		if data, err := readFile("/proc/1/cgroup"); err == nil {
			cgroup := strings.ToLower(string(data))
			if strings.Contains(cgroup, "docker") || strings.Contains(cgroup, "containerd") || strings.Contains(cgroup, "kubepods") {
				set["container"] = true
			}
			if strings.Contains(cgroup, "docker") {
				set["docker"] = true
			}
			if strings.Contains(cgroup, "kubepods") {
				set["kubernetes"] = true
			}
		}
	}

	signals := make([]string, 0, len(set))
	for s := range set {
		signals = append(signals, s)
	}
	slices.Sort(signals)
	return signals
}
