package inference

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// ThreadCount resolves the interpreter thread count. Values <= 0 select all
// logical cores; explicit values are capped at the available CPUs.
func ThreadCount(requested int) int {
	available := runtime.NumCPU()
	if requested <= 0 {
		if n := cpuid.CPU.LogicalCores; n > 0 {
			return min(n, available)
		}
		return available
	}
	return min(requested, available)
}

// CPUBrand returns the processor brand string reported by cpuid
func CPUBrand() string {
	return cpuid.CPU.BrandName
}
