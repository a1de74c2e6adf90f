package cmd

import (
	"testing"

	"github.com/orchard-sh/orchard/internal/bus"
	"github.com/orchard-sh/orchard/internal/monitor"
	"github.com/orchard-sh/orchard/pkg/protocol"
)

func TestConsumeTerminal_AcksEveryDataFrame(t *testing.T) {
	mon := monitor.New(bus.New(), nil, "proj-1")
	mon.Start("s1", "w1")

	frames := make(chan *protocol.Frame, 16)
	for i := 0; i < 5; i++ {
		frames <- &protocol.Frame{Type: protocol.EventTerminalData, SessionID: "s1", Data: "output\n", Seq: int64(i + 1)}
	}
	// Non-data frames pass through without an ack.
	frames <- &protocol.Frame{Type: protocol.EventTerminalExit, SessionID: "s1"}
	close(frames)

	var acked int
	consumeTerminal("s1", frames, mon, func(sessionID string, count int) error {
		if sessionID != "s1" {
			t.Errorf("acked session %q, want s1", sessionID)
		}
		acked += count
		return nil
	})

	if acked != 5 {
		t.Fatalf("acked = %d, want one ack per data frame (5)", acked)
	}
}
