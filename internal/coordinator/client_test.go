package coordinator

import (
	"errors"
	"testing"

	"github.com/0xethll/meeting-mind/internal/protocol"
)

func TestEnvelopeErrorRestoresSentinels(t *testing.T) {
	cases := []struct {
		code     string
		sentinel error
	}{
		{protocol.CodeNoNewAudio, ErrNoNewAudio},
		{protocol.CodeCaptureUnavailable, ErrCaptureUnavailable},
		{protocol.CodeHandleInvalid, ErrHandleInvalid},
		{protocol.CodeAlreadyCapturing, ErrAlreadyCapturing},
	}
	for _, tc := range cases {
		env := protocol.Envelope{OK: false, Code: tc.code, Error: "details"}
		if err := envelopeError(env); !errors.Is(err, tc.sentinel) {
			t.Errorf("code %q: got %v, want %v", tc.code, err, tc.sentinel)
		}
	}

	if err := envelopeError(protocol.Envelope{OK: true}); err != nil {
		t.Fatalf("ok envelope produced error: %v", err)
	}
	err := envelopeError(protocol.Envelope{OK: false, Code: protocol.CodeInternal, Error: "boom"})
	if err == nil {
		t.Fatal("unknown code should still be an error")
	}
}
