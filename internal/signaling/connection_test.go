package signaling

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogMessage_SkipsOnlyPong(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logMessage(log, "send", MessageTypePing)
	logMessage(log, "recv", MessageTypePong)
	logMessage(log, "recv", MessageTypeOffer)

	out := buf.String()
	if !strings.Contains(out, "type=ping") {
		t.Fatalf("log=%q, want ping record", out)
	}
	if strings.Contains(out, "type=pong") {
		t.Fatalf("log=%q, want no pong record", out)
	}
	if !strings.Contains(out, "type=offer") {
		t.Fatalf("log=%q, want offer record", out)
	}
}
