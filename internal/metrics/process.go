package metrics

import (
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessCollector samples the bot's own process on every scrape.
type ProcessCollector struct {
	pid int32

	mu   sync.Mutex
	proc *process.Process

	cpu     *prometheus.Desc
	rss     *prometheus.Desc
	vms     *prometheus.Desc
	threads *prometheus.Desc
	fds     *prometheus.Desc
}

// NewProcessCollector watches pid; 0 means the current process.
func NewProcessCollector(pid int32) *ProcessCollector {
	if pid == 0 {
		pid = int32(os.Getpid())
	}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("reforge", "process", name), help, nil, nil)
	}
	return &ProcessCollector{
		pid:     pid,
		cpu:     desc("cpu_percent", "CPU usage of the bot process since the previous scrape."),
		rss:     desc("memory_rss_bytes", "Resident set size of the bot process."),
		vms:     desc("memory_vms_bytes", "Virtual memory size of the bot process."),
		threads: desc("threads", "Number of OS threads in the bot process."),
		fds:     desc("open_fds", "Number of open file descriptors (Unix only)."),
	}
}

func (c *ProcessCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.vms
	ch <- c.threads
	ch <- c.fds
}

func (c *ProcessCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		p, err := process.NewProcess(c.pid)
		if err != nil {
			slog.Debug("process metrics unavailable", "pid", c.pid, "error", err)
			return
		}
		c.proc = p
	}

	// the first sample after creation reports usage since process start
	if cpu, err := c.proc.Percent(0); err == nil {
		ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, cpu)
	}
	if mem, err := c.proc.MemoryInfo(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(mem.RSS))
		ch <- prometheus.MustNewConstMetric(c.vms, prometheus.GaugeValue, float64(mem.VMS))
	}
	if n, err := c.proc.NumThreads(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(n))
	}
	if runtime.GOOS != "windows" {
		if n, err := c.proc.NumFDs(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.fds, prometheus.GaugeValue, float64(n))
		}
	}
}
