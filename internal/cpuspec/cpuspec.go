// Package cpuspec picks an inference thread count from the host CPU.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	LogicalCores     int
	PerformanceCores int
}

// hybridCores maps brand name fragments of hybrid CPUs to their performance core count.
// Only P-cores are used for inference.
var hybridCores = []struct {
	pattern *regexp.Regexp
	cores   int
}{
	{regexp.MustCompile(`i[79]-1[234]\d{3}`), 8},
	{regexp.MustCompile(`i5-1[234][56]\d{2}`), 6},
	{regexp.MustCompile(`i5-1[234][45]\d{2}`), 6},
	{regexp.MustCompile(`i3-1[234]1\d{2}`), 4},
	{regexp.MustCompile(`ultra [79] 2\d5`), 8},
	{regexp.MustCompile(`ultra 5 2[23]5`), 6},
	{regexp.MustCompile(`apple m[1-3]$`), 4},
	{regexp.MustCompile(`apple m[1-4] pro`), 8},
	{regexp.MustCompile(`apple m[2-4] max`), 12},
	{regexp.MustCompile(`apple m1 max`), 8},
	{regexp.MustCompile(`apple m4$`), 6},
}

// GetCPUSpec returns the specification of the host CPU
func GetCPUSpec() CPUSpec {
	return newSpec(cpuid.CPU.BrandName, cpuid.CPU.LogicalCores)
}

func newSpec(brand string, logical int) CPUSpec {
	return CPUSpec{
		BrandName:        brand,
		LogicalCores:     logical,
		PerformanceCores: performanceCores(brand),
	}
}

// OptimalThreadCount returns the recommended interpreter thread count, never more than
// the CPUs available to the process.
func (c CPUSpec) OptimalThreadCount() int {
	return c.threadsFor(runtime.NumCPU())
}

func (c CPUSpec) threadsFor(available int) int {
	threads := c.LogicalCores
	if c.PerformanceCores > 0 {
		threads = c.PerformanceCores
	}
	if threads <= 0 || threads > available {
		threads = available
	}
	return max(threads, 1)
}

func performanceCores(brand string) int {
	brand = strings.ToLower(strings.TrimSpace(brand))
	for _, h := range hybridCores {
		if h.pattern.MatchString(brand) {
			return h.cores
		}
	}
	return 0
}
