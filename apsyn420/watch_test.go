package apsyn420

import (
	"context"
	"testing"
	"time"
)

func snapshotReplies() map[string]string {
	return map[string]string{
		"FREQ?":      "2.5E9",
		"OUTP?":      "1",
		"OUTP:BLAN?": "0",
		"PULM:STAT?": "0",
		"PULM:POL?":  "NORM",
		"PULM:SOUR?": "INT",
		"ROSC:LOCK?": "1",
	}
}

func TestSnapshotTypesValues(t *testing.T) {
	device := &fakeDevice{replies: snapshotReplies()}
	inst := newTestInstrument(t, device, true)

	env, err := inst.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if env["frequency"] != 2.5e9 {
		t.Fatalf("unexpected frequency: %v", env["frequency"])
	}
	if env["output"] != true || env["blanking"] != false {
		t.Fatalf("unexpected booleans: %v", env)
	}
	if env["pulm_polarity"] != "Normal" || env["pulm_source"] != "Internal" {
		t.Fatalf("unexpected aliases: %v", env)
	}
	if env["locked"] != true {
		t.Fatalf("unexpected lock state: %v", env["locked"])
	}
}

func TestWaitForConditionAlreadyTrue(t *testing.T) {
	device := &fakeDevice{replies: snapshotReplies()}
	inst := newTestInstrument(t, device, true)

	err := inst.WaitFor(context.Background(), `output && locked && frequency > 1e9`, time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestWaitForHonorsCancellation(t *testing.T) {
	replies := snapshotReplies()
	replies["OUTP?"] = "0"
	device := &fakeDevice{replies: replies}
	inst := newTestInstrument(t, device, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := inst.WaitFor(ctx, `output`, time.Millisecond)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWaitForRejectsBadCondition(t *testing.T) {
	device := &fakeDevice{replies: snapshotReplies()}
	inst := newTestInstrument(t, device, true)

	if err := inst.WaitFor(context.Background(), `output &&`, time.Millisecond); err == nil {
		t.Fatal("expected compile error")
	}
}
