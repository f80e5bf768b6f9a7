package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftmesh/node/pkg/nid"
	"github.com/driftmesh/node/pkg/pid"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, msg))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, msg.Command(), got.Command())
	return got
}

func TestHelloRoundTrip(t *testing.T) {
	var n nid.ID
	n[0] = 0xaa
	h := &Hello{Version: 1, NID: n, Features: 0x7, Timestamp: 1700000000}
	got := roundTrip(t, h).(*Hello)
	require.Equal(t, h, got)
}

func TestInventoryRoundTrip(t *testing.T) {
	var p1, p2 pid.ID
	p1[0], p2[0] = 1, 2
	inv := &Inventory{
		Version: 42,
		Entries: []InventoryEntry{
			{PID: p1, Head: "refs/heads/main@abc"},
			{PID: p2, Head: "refs/heads/main@def"},
		},
	}
	got := roundTrip(t, inv).(*Inventory)
	require.Equal(t, inv, got)
}

func TestInventoryRoundTripCompressed(t *testing.T) {
	entries := make([]InventoryEntry, 0, 100)
	for i := 0; i < 100; i++ {
		var p pid.ID
		p[0] = byte(i)
		entries = append(entries, InventoryEntry{PID: p, Head: strings.Repeat("x", 64)})
	}
	inv := &Inventory{Version: 7, Entries: entries}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, inv))
	require.Less(t, buf.Len(), len(entries)*64, "large repetitive inventory should compress smaller than raw payload")

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, inv, got)
}

func TestRefsAnnouncementRoundTrip(t *testing.T) {
	var p pid.ID
	p[0] = 9
	a := &RefsAnnouncement{PID: p, Head: "refs/heads/main@abc", Signature: []byte{1, 2, 3, 4}}
	got := roundTrip(t, a).(*RefsAnnouncement)
	require.Equal(t, a, got)
}

func TestFetchRequestResponseRoundTrip(t *testing.T) {
	var p pid.ID
	p[0] = 5
	req := &FetchRequest{PID: p}
	require.Equal(t, req, roundTrip(t, req).(*FetchRequest))

	resp := &FetchResponse{PID: p, Success: false, Reason: "disconnected"}
	require.Equal(t, resp, roundTrip(t, resp).(*FetchResponse))
}

func TestReadFrameRejectsUnknownCommand(t *testing.T) {
	var buf bytes.Buffer
	req := &FetchRequest{}
	require.NoError(t, WriteFrame(&buf, req))
	b := buf.Bytes()
	b[4] = 0xff // overwrite the command byte just after the length prefix
	_, err := ReadFrame(bytes.NewReader(b))
	require.Error(t, err)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadFrame(buf)
	require.Error(t, err)
}

func FuzzFrameRoundTrip(f *testing.F) {
	var p pid.ID
	p[0] = 1
	seed := &FetchResponse{PID: p, Success: true, Reason: "ok"}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, seed); err == nil {
		f.Add(buf.Bytes())
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		// Decoding arbitrary bytes must never panic, regardless of
		// whether it produces a valid message.
		_, _ = ReadFrame(bytes.NewReader(data))
	})
}
