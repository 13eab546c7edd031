package usbtransport

import "testing"

// TestBufferSizeConstant guards the one invariant every frame builder in
// pkg/wire depends on: the persistent buffer is exactly 256 bytes.
func TestBufferSizeConstant(t *testing.T) {
	if BufferSize != 256 {
		t.Fatalf("BufferSize = %d, want 256", BufferSize)
	}
}

// TestOpenRejectsMissingDevice exercises the not-found path without any
// real USB hardware attached: OpenDeviceWithVIDPID returns a nil device
// and nil error when nothing matches, and Open must turn that into an
// error rather than a nil-pointer panic downstream.
func TestOpenRejectsMissingDevice(t *testing.T) {
	_, err := Open(0xFFFF, 0xFFFF, 0)
	if err == nil {
		t.Fatal("Open() with an unused VID:PID pair returned nil error, want a not-found error")
	}
}
