//go:build !linux && !darwin

package collector

func osRelease() string { return "" }
