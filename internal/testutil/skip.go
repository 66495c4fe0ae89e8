// Package testutil holds helpers shared by package tests.
package testutil

import (
	"net"
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if THREADLINE_TEST_SKIP_NETWORK is set.
// Use this for tests that listen on TCP, which sandboxed environments may
// not allow.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("THREADLINE_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: THREADLINE_TEST_SKIP_NETWORK is set")
	}
}

// SkipIfShort skips slow integration tests under -short.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// FreeAddr returns a loopback address with a port that was free a moment ago.
func FreeAddr(t *testing.T) string {
	t.Helper()
	SkipIfNoNetwork(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping network test: %v", err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatalf("release port: %v", err)
	}
	return addr
}
