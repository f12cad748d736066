package monitor

import (
	"context"
	"strings"
	"testing"
)

func TestSnapshotBasics(t *testing.T) {
	m := New(t.TempDir())
	snap, err := m.Snapshot(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Timestamp.IsZero() {
		t.Fatalf("timestamp not set")
	}
	if snap.CPU.Cores <= 0 {
		t.Fatalf("cores = %d", snap.CPU.Cores)
	}
	if snap.Memory.TotalBytes == 0 {
		t.Fatalf("memory total = 0")
	}
	if snap.Root == nil || snap.Root.TotalBytes == 0 {
		t.Fatalf("root usage missing: %+v", snap.Root)
	}
	if len(snap.Processes) != 0 || len(snap.Disks) != 0 || len(snap.Network) != 0 {
		t.Fatalf("optional sections should be empty by default")
	}
}

func TestSnapshotTopProcessesCapped(t *testing.T) {
	m := New("")
	snap, err := m.Snapshot(context.Background(), Options{TopProcesses: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Processes) == 0 {
		t.Fatalf("expected at least one process")
	}
	if len(snap.Processes) > 3 {
		t.Fatalf("process table not capped: %d", len(snap.Processes))
	}
	for _, p := range snap.Processes {
		if p.PID == 0 || p.Name == "" {
			t.Fatalf("incomplete process entry %+v", p)
		}
	}
}

func TestRenderSections(t *testing.T) {
	m := New(t.TempDir())
	snap, err := m.Snapshot(context.Background(), Options{TopProcesses: 5})
	if err != nil {
		t.Fatal(err)
	}
	out := snap.Render()
	for _, want := range []string{"System", "Resources", "CPU:", "Memory:", "Top processes"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{0, "0.0 B"},
		{512, "512.0 B"},
		{2048, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}
	for _, c := range cases {
		if got := formatBytes(c.in); got != c.want {
			t.Errorf("formatBytes(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatUptime(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{0, "< 1m"},
		{59, "< 1m"},
		{60, "1m"},
		{3661, "1h 1m"},
		{90061, "1d 1h 1m"},
		{86400, "1d"},
	}
	for _, c := range cases {
		if got := formatUptime(c.in); got != c.want {
			t.Errorf("formatUptime(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}
