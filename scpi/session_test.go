package scpi

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/timzifer/apsynctl/visa"
)

// fakeTranscript records transport activity the way the wire would see it,
// terminators included.
type fakeTranscript struct {
	entries  []string
	opens    int
	closes   int
	writeErr error
	queryErr error
	reply    string
}

type fakeHandle struct {
	transcript *fakeTranscript
}

func newFakeDialer(transcript *fakeTranscript) visa.DialFunc {
	return func(address string) (visa.Handle, error) {
		transcript.opens++
		transcript.entries = append(transcript.entries, fmt.Sprintf("open(%s)", address))
		return &fakeHandle{transcript: transcript}, nil
	}
}

func (h *fakeHandle) Write(cmd string) error {
	h.transcript.entries = append(h.transcript.entries, fmt.Sprintf("write(%s\\r\\n)", cmd))
	return h.transcript.writeErr
}

func (h *fakeHandle) Query(cmd string) (string, error) {
	h.transcript.entries = append(h.transcript.entries, fmt.Sprintf("query(%s\\r\\n)", cmd))
	if h.transcript.queryErr != nil {
		return "", h.transcript.queryErr
	}
	return h.transcript.reply, nil
}

func (h *fakeHandle) Close() error {
	h.transcript.closes++
	h.transcript.entries = append(h.transcript.entries, "close()")
	return nil
}

func newTestSession(t *testing.T, mode ConnectionMode, transcript *fakeTranscript, opts ...Option) *Session {
	t.Helper()
	session, err := NewSessionWith("A", mode, newFakeDialer(transcript), zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return session
}

func TestNewSessionRequiresAddress(t *testing.T) {
	if _, err := NewSession("", PerCommand, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestPersistentModeDialsOnceAndClosesOnce(t *testing.T) {
	transcript := &fakeTranscript{reply: "1"}
	session := newTestSession(t, Persistent, transcript)

	if err := session.Send("OUTP 1"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := session.Query("OUTP?"); err != nil {
		t.Fatalf("query: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if transcript.opens != 1 {
		t.Fatalf("unexpected open count: got %d want 1", transcript.opens)
	}
	if transcript.closes != 1 {
		t.Fatalf("unexpected close count: got %d want 1", transcript.closes)
	}
}

func TestPerCommandSendOpensAndClosesPerCall(t *testing.T) {
	transcript := &fakeTranscript{}
	session := newTestSession(t, PerCommand, transcript)

	if err := session.Send("OUTP 1"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if transcript.opens != 1 || transcript.closes != 1 {
		t.Fatalf("unexpected lifecycle: opens=%d closes=%d", transcript.opens, transcript.closes)
	}

	if err := session.Send("OUTP 0"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if transcript.opens != 2 || transcript.closes != 2 {
		t.Fatalf("unexpected lifecycle: opens=%d closes=%d", transcript.opens, transcript.closes)
	}
}

func TestPerCommandSendClosesOnWriteError(t *testing.T) {
	transcript := &fakeTranscript{writeErr: errors.New("broken pipe")}
	session := newTestSession(t, PerCommand, transcript)

	if err := session.Send("OUTP 1"); err == nil {
		t.Fatal("expected write error")
	}
	if transcript.opens != 1 || transcript.closes != 1 {
		t.Fatalf("unexpected lifecycle: opens=%d closes=%d", transcript.opens, transcript.closes)
	}
}

func TestPerCommandQueryLeavesHandleOpen(t *testing.T) {
	transcript := &fakeTranscript{reply: "1"}
	session := newTestSession(t, PerCommand, transcript)

	reply, err := session.Query("OUTP?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if reply != "1" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	// Reference behavior: close was never reached after a query.
	if transcript.opens != 1 || transcript.closes != 0 {
		t.Fatalf("unexpected lifecycle: opens=%d closes=%d", transcript.opens, transcript.closes)
	}
}

func TestPerCommandQueryStrictReleaseCloses(t *testing.T) {
	transcript := &fakeTranscript{reply: "1"}
	session := newTestSession(t, PerCommand, transcript, WithStrictRelease())

	if _, err := session.Query("OUTP?"); err != nil {
		t.Fatalf("query: %v", err)
	}
	if transcript.opens != 1 || transcript.closes != 1 {
		t.Fatalf("unexpected lifecycle: opens=%d closes=%d", transcript.opens, transcript.closes)
	}
}

func TestPerCommandTranscriptSequence(t *testing.T) {
	transcript := &fakeTranscript{reply: "1"}
	session := newTestSession(t, PerCommand, transcript)

	if err := session.Send("OUTP 1"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := session.Query("OUTP?"); err != nil {
		t.Fatalf("query: %v", err)
	}

	expected := []string{
		"open(A)",
		"write(OUTP 1\\r\\n)",
		"close()",
		"open(A)",
		"query(OUTP?\\r\\n)",
	}
	if len(transcript.entries) != len(expected) {
		t.Fatalf("unexpected transcript length: got %d want %d (%v)", len(transcript.entries), len(expected), transcript.entries)
	}
	for i, entry := range expected {
		if transcript.entries[i] != entry {
			t.Fatalf("transcript[%d]: got %q want %q", i, transcript.entries[i], entry)
		}
	}
}

func TestSendWrapsDeviceStatusCode(t *testing.T) {
	transcript := &fakeTranscript{writeErr: &visa.StatusError{Code: -113}}
	session := newTestSession(t, PerCommand, transcript)

	err := session.Send("BOGUS 1")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.Code != -113 {
		t.Fatalf("unexpected device code: got %d want %d", cmdErr.Code, -113)
	}
	if transcript.closes != 1 {
		t.Fatal("expected handle to be closed after failed send")
	}
}

func TestCommandValidation(t *testing.T) {
	session := newTestSession(t, PerCommand, &fakeTranscript{})

	if err := session.Send(""); err == nil {
		t.Fatal("expected error for empty command")
	}
	if err := session.Send("FREQ 1e9\r\n"); err == nil {
		t.Fatal("expected error for embedded terminator")
	}
	if _, err := session.Query("FREQ?\n"); err == nil {
		t.Fatal("expected error for embedded terminator")
	}
}

func TestModeSwitchingIsIdempotent(t *testing.T) {
	transcript := &fakeTranscript{reply: "1"}
	session := newTestSession(t, PerCommand, transcript)

	if err := session.UsePerCommand(); err != nil {
		t.Fatalf("UsePerCommand: %v", err)
	}
	if transcript.opens != 0 {
		t.Fatal("no connection should be opened by a no-op mode switch")
	}

	if err := session.UsePersistent(); err != nil {
		t.Fatalf("UsePersistent: %v", err)
	}
	if session.Mode() != Persistent {
		t.Fatalf("unexpected mode: %s", session.Mode())
	}
	if transcript.opens != 1 {
		t.Fatalf("expected persistent switch to dial, opens=%d", transcript.opens)
	}
	if err := session.UsePersistent(); err != nil {
		t.Fatalf("UsePersistent again: %v", err)
	}
	if transcript.opens != 1 {
		t.Fatal("repeated persistent switch must not redial")
	}

	if err := session.UsePerCommand(); err != nil {
		t.Fatalf("UsePerCommand: %v", err)
	}
	if transcript.closes != 1 {
		t.Fatal("switching to per-command must release the held connection")
	}
}
