package hardware

import (
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/pbnjay/memory"
)

// Info describes the host for the startup banner.
type Info struct {
	CPUBrand    string
	Cores       int
	Threads     int
	Features    []string
	TotalMemory uint64
}

// mining-relevant feature flags worth surfacing at startup
var wantedFeatures = []cpuid.FeatureID{
	cpuid.AESNI,
	cpuid.AVX2,
	cpuid.AVX512F,
	cpuid.SSE42,
	cpuid.SHA,
}

// DetectInfo reads CPU identity and memory size once at startup.
func DetectInfo() Info {
	info := Info{
		CPUBrand:    strings.TrimSpace(cpuid.CPU.BrandName),
		Cores:       cpuid.CPU.PhysicalCores,
		Threads:     cpuid.CPU.LogicalCores,
		TotalMemory: memory.TotalMemory(),
	}
	if info.Threads == 0 {
		info.Threads = runtime.NumCPU()
	}
	for _, f := range wantedFeatures {
		if cpuid.CPU.Has(f) {
			info.Features = append(info.Features, f.String())
		}
	}
	return info
}
