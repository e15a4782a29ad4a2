package async

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/ytmp3/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Workers currently handling a delivery
	WorkersTotal  int     `json:"workers_total"`   // Configured workers
	JobsProcessed int     `json:"jobs_processed"`  // Deliveries handled since start
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
}

// getMemoryStats returns total and available memory in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// HostMemory reports host memory usage in GB, zeroes when unavailable
func HostMemory() (usedGB, totalGB, percent float64) {
	total, available, err := getMemoryStats()
	if err != nil || total == 0 {
		return 0, 0, 0
	}
	totalGB = float64(total) / 1024 / 1024 / 1024
	usedGB = float64(total-available) / 1024 / 1024 / 1024
	return usedGB, totalGB, usedGB / totalGB * 100
}

// calculateSafeWorkerCount recommends a worker count for the available memory.
// Each worker runs one extractor and transcoder process.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 0.5 // GB per concurrent extraction + transcode
	const memoryBuffer = 1.0    // GB reserved for the rest of the host

	if availableGB < memoryBuffer {
		return 1
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 16 {
		return 16
	}
	return recommended
}

// GetSystemMetrics returns current pool and host resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	usedGB, totalGB, percent := HostMemory()

	wp.mu.Lock()
	active := wp.activeWorkers
	processed := wp.jobsProcessed
	wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: active,
		WorkersTotal:  wp.workers,
		JobsProcessed: processed,
		MemoryUsedGB:  usedGB,
		MemoryTotalGB: totalGB,
		MemoryPercent: percent,
	}
}

// checkMemoryPressure returns a warning if the worker count is too high for
// available memory, empty string if OK
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if wp.workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing workers to prevent memory pressure.",
			wp.workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
