// Package monitor takes point-in-time system resource snapshots for the
// monitor command and the monitor API endpoint.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// cpuSampleInterval is how long the CPU usage probe samples for. Kept short
// so a monitor call stays interactive.
const cpuSampleInterval = 500 * time.Millisecond

type Options struct {
	// TopProcesses caps the by-CPU process table; 0 disables it.
	TopProcesses int
	// Disk includes per-partition usage.
	Disk bool
	// Network includes per-interface traffic counters.
	Network bool
}

type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Host   HostInfo `json:"host"`
	CPU    CPUInfo  `json:"cpu"`
	Memory MemInfo  `json:"memory"`
	Swap   *MemInfo `json:"swap,omitempty"`

	// Root is the usage of the filesystem holding the allowed root.
	Root *DiskInfo `json:"root,omitempty"`

	Disks     []DiskInfo `json:"disks,omitempty"`
	Network   []NetInfo  `json:"network,omitempty"`
	Processes []ProcInfo `json:"processes,omitempty"`
}

type HostInfo struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform,omitempty"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	Load1         float64 `json:"load1,omitempty"`
	Load5         float64 `json:"load5,omitempty"`
	Load15        float64 `json:"load15,omitempty"`
}

type CPUInfo struct {
	Cores       int     `json:"cores"`
	UsedPercent float64 `json:"used_percent"`
}

type MemInfo struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

type DiskInfo struct {
	Path        string  `json:"path"`
	Device      string  `json:"device,omitempty"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

type NetInfo struct {
	Name        string `json:"name"`
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

type ProcInfo struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float32 `json:"memory_percent"`
	Status        string  `json:"status,omitempty"`
}

// Monitor probes the host the process runs on. root is the allowed root,
// used to report the filesystem the sandbox actually lives on.
type Monitor struct {
	root string
}

func New(root string) *Monitor {
	return &Monitor{root: root}
}

// Snapshot gathers a point-in-time view. CPU and memory probes are
// required; everything else is best effort and omitted on failure, the way
// partitions a user cannot stat are skipped rather than failing the report.
func (m *Monitor) Snapshot(ctx context.Context, opts Options) (*Snapshot, error) {
	snap := &Snapshot{Timestamp: time.Now().UTC()}

	percents, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return nil, fmt.Errorf("cpu usage: %w", err)
	}
	if len(percents) > 0 {
		snap.CPU.UsedPercent = percents[0]
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPU.Cores = cores
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}
	snap.Memory = MemInfo{TotalBytes: vm.Total, UsedBytes: vm.Used, UsedPercent: vm.UsedPercent}

	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil && sw.Total > 0 {
		snap.Swap = &MemInfo{TotalBytes: sw.Total, UsedBytes: sw.Used, UsedPercent: sw.UsedPercent}
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		snap.Host = HostInfo{
			Hostname:      hi.Hostname,
			OS:            hi.OS,
			Platform:      hi.Platform,
			UptimeSeconds: hi.Uptime,
		}
	}
	// Load averages are unavailable on some platforms; leave them zero there.
	if la, err := load.AvgWithContext(ctx); err == nil {
		snap.Host.Load1 = la.Load1
		snap.Host.Load5 = la.Load5
		snap.Host.Load15 = la.Load15
	}

	if m.root != "" {
		if du, err := disk.UsageWithContext(ctx, m.root); err == nil {
			snap.Root = &DiskInfo{
				Path:        m.root,
				TotalBytes:  du.Total,
				UsedBytes:   du.Used,
				FreeBytes:   du.Free,
				UsedPercent: du.UsedPercent,
			}
		}
	}

	if opts.Disk {
		snap.Disks = partitionUsage(ctx)
	}
	if opts.Network {
		snap.Network = interfaceCounters(ctx)
	}
	if opts.TopProcesses > 0 {
		snap.Processes = topProcesses(ctx, opts.TopProcesses)
	}

	return snap, nil
}

func partitionUsage(ctx context.Context) []DiskInfo {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil
	}
	out := make([]DiskInfo, 0, len(parts))
	for _, p := range parts {
		du, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		out = append(out, DiskInfo{
			Path:        p.Mountpoint,
			Device:      p.Device,
			TotalBytes:  du.Total,
			UsedBytes:   du.Used,
			FreeBytes:   du.Free,
			UsedPercent: du.UsedPercent,
		})
	}
	return out
}

func interfaceCounters(ctx context.Context) []NetInfo {
	stats, err := gopsnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil
	}
	out := make([]NetInfo, 0, len(stats))
	for _, st := range stats {
		out = append(out, NetInfo{
			Name:        st.Name,
			BytesSent:   st.BytesSent,
			BytesRecv:   st.BytesRecv,
			PacketsSent: st.PacketsSent,
			PacketsRecv: st.PacketsRecv,
		})
	}
	return out
}

func topProcesses(ctx context.Context, limit int) []ProcInfo {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil
	}
	out := make([]ProcInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Raced with process exit or hit a permission wall; skip.
			continue
		}
		info := ProcInfo{PID: p.Pid, Name: name}
		if cp, err := p.CPUPercentWithContext(ctx); err == nil {
			info.CPUPercent = cp
		}
		if mp, err := p.MemoryPercentWithContext(ctx); err == nil {
			info.MemoryPercent = mp
		}
		if st, err := p.StatusWithContext(ctx); err == nil {
			info.Status = strings.Join(st, ",")
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CPUPercent != out[j].CPUPercent {
			return out[i].CPUPercent > out[j].CPUPercent
		}
		return out[i].MemoryPercent > out[j].MemoryPercent
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Render formats the snapshot as the plain-text report shown in the
// terminal and embedded in command output.
func (s *Snapshot) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "System\n")
	if s.Host.Hostname != "" {
		fmt.Fprintf(&b, "  Host:    %s\n", s.Host.Hostname)
	}
	osLine := s.Host.OS
	if s.Host.Platform != "" && s.Host.Platform != s.Host.OS {
		osLine = fmt.Sprintf("%s (%s)", s.Host.OS, s.Host.Platform)
	}
	if osLine != "" {
		fmt.Fprintf(&b, "  OS:      %s\n", osLine)
	}
	fmt.Fprintf(&b, "  Uptime:  %s\n", formatUptime(s.Host.UptimeSeconds))
	if s.Host.Load1 != 0 || s.Host.Load5 != 0 || s.Host.Load15 != 0 {
		fmt.Fprintf(&b, "  Load:    %.2f, %.2f, %.2f\n", s.Host.Load1, s.Host.Load5, s.Host.Load15)
	}

	fmt.Fprintf(&b, "\nResources\n")
	fmt.Fprintf(&b, "  CPU:     %5.1f%%  (%d cores)\n", s.CPU.UsedPercent, s.CPU.Cores)
	fmt.Fprintf(&b, "  Memory:  %5.1f%%  (%s / %s)\n",
		s.Memory.UsedPercent, formatBytes(s.Memory.UsedBytes), formatBytes(s.Memory.TotalBytes))
	if s.Swap != nil {
		fmt.Fprintf(&b, "  Swap:    %5.1f%%  (%s / %s)\n",
			s.Swap.UsedPercent, formatBytes(s.Swap.UsedBytes), formatBytes(s.Swap.TotalBytes))
	}
	if s.Root != nil {
		fmt.Fprintf(&b, "  Root:    %5.1f%%  (%s free of %s on %s)\n",
			s.Root.UsedPercent, formatBytes(s.Root.FreeBytes), formatBytes(s.Root.TotalBytes), s.Root.Path)
	}

	if len(s.Disks) > 0 {
		fmt.Fprintf(&b, "\nDisks\n")
		for _, d := range s.Disks {
			fmt.Fprintf(&b, "  %-24s %5.1f%%  (%s free of %s, %s)\n",
				d.Path, d.UsedPercent, formatBytes(d.FreeBytes), formatBytes(d.TotalBytes), d.Device)
		}
	}

	if len(s.Network) > 0 {
		fmt.Fprintf(&b, "\nNetwork\n")
		for _, n := range s.Network {
			fmt.Fprintf(&b, "  %-12s sent %s (%d pkts), recv %s (%d pkts)\n",
				n.Name, formatBytes(n.BytesSent), n.PacketsSent, formatBytes(n.BytesRecv), n.PacketsRecv)
		}
	}

	if len(s.Processes) > 0 {
		fmt.Fprintf(&b, "\nTop processes\n")
		fmt.Fprintf(&b, "  %7s  %-20s %6s %6s  %s\n", "PID", "NAME", "CPU%", "MEM%", "STATUS")
		for _, p := range s.Processes {
			name := p.Name
			if len(name) > 20 {
				name = name[:20]
			}
			fmt.Fprintf(&b, "  %7d  %-20s %6.1f %6.1f  %s\n",
				p.PID, name, p.CPUPercent, p.MemoryPercent, p.Status)
		}
	}

	return b.String()
}

func formatBytes(n uint64) string {
	v := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if v < 1024.0 {
			return fmt.Sprintf("%.1f %s", v, unit)
		}
		v /= 1024.0
	}
	return fmt.Sprintf("%.1f PB", v)
}

func formatUptime(seconds uint64) string {
	d := time.Duration(seconds) * time.Second
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 {
		return "< 1m"
	}
	return strings.Join(parts, " ")
}
