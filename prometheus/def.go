// Standalone metrics sidecar: watches a running VisionBridge process from the
// outside and serves its memory/CPU gauges, for deployments where the
// in-process monitor port cannot be exposed.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	PID      process.Process
	memUsage prometheus.Gauge
	cpuUsage prometheus.Gauge
)

func prom(port int) {
	registry := prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})

	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	registry.MustRegister(memUsage, cpuUsage)

	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	_ = http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
}

func CheckProcessInfo() {
	for {
		running, err := PID.IsRunning()
		if err != nil || !running {
			fmt.Println("Watched process has exited.")
			time.Sleep(3 * time.Second)
			break
		}
		MemInfo, _ := PID.MemoryInfo()
		var MemMB = MemInfo.RSS / 1024 / 1024
		CPUPercent, _ := PID.CPUPercent()
		CPUPercentFloat, _ := strconv.ParseFloat(fmt.Sprintf("%.2f", CPUPercent), 64)
		memUsage.Set(float64(MemMB))
		cpuUsage.Set(CPUPercentFloat)
		time.Sleep(500 * time.Millisecond)
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: prometheus <pid> [port]")
		os.Exit(1)
	}
	pid, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	port := 50053
	if len(os.Args) > 2 {
		if p, err := strconv.Atoi(os.Args[2]); err == nil {
			port = p
		}
	}
	PID = process.Process{Pid: int32(pid)}
	go prom(port)
	time.Sleep(1 * time.Second)
	CheckProcessInfo()
}
