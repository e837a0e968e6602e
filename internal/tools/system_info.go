package tools

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

type systemInfoArgs struct{}

// NewSystemInfoTool returns system_info, which reports host name, OS,
// uptime, load, CPU and memory usage, and disk usage of diskPath.
// Unavailable metrics are omitted rather than failing the call.
func NewSystemInfoTool(diskPath string) Tool {
	return Typed("system_info", "Report host resource usage: OS, uptime, load, CPU, memory and workspace disk.",
		func(ctx context.Context, _ systemInfoArgs) (string, error) {
			return systemReport(ctx, diskPath), nil
		})
}

func systemReport(ctx context.Context, diskPath string) string {
	var b strings.Builder

	if h, err := host.InfoWithContext(ctx); err == nil {
		fmt.Fprintf(&b, "Host: %s\n", h.Hostname)
		fmt.Fprintf(&b, "OS: %s %s (%s/%s)\n", h.Platform, h.PlatformVersion, runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(&b, "Uptime: %s\n", (time.Duration(h.Uptime) * time.Second).String())
	} else {
		fmt.Fprintf(&b, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		fmt.Fprintf(&b, "Load: %.2f %.2f %.2f\n", avg.Load1, avg.Load5, avg.Load15)
	}

	if pct, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(pct) > 0 {
		fmt.Fprintf(&b, "CPU: %.1f%% of %d cores\n", pct[0], runtime.NumCPU())
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		fmt.Fprintf(&b, "Memory: %s used of %s (%.1f%%)\n", humanBytes(vm.Used), humanBytes(vm.Total), vm.UsedPercent)
	}

	if diskPath != "" {
		if du, err := disk.UsageWithContext(ctx, diskPath); err == nil {
			fmt.Fprintf(&b, "Disk (%s): %s free of %s (%.1f%% used)\n", diskPath, humanBytes(du.Free), humanBytes(du.Total), du.UsedPercent)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
