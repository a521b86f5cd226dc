package ingest

import "runtime"

const (
	MemoryNormal   = "normal"
	MemoryWarning  = "warning"
	MemoryCritical = "critical"

	bytesPerMB          = 1 << 20
	memoryWarningRatio  = 0.75
	memoryCriticalRatio = 1.0
)

type MemoryStatus struct {
	UsedMB      float64 `json:"usedMB"`
	AllocMB     float64 `json:"allocMB"`
	SysMB       float64 `json:"sysMB"`
	HeapInuseMB float64 `json:"heapInuseMB"`
	NumGC       uint32  `json:"numGC"`
	CeilingMB   int     `json:"ceilingMB"`
	Level       string  `json:"level"`
}

// ReadMemory samples the runtime. UsedMB is memory obtained from the OS and not yet returned.
func ReadMemory(ceilingMB int) MemoryStatus {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	used := toMB(ms.Sys - ms.HeapReleased)

	return MemoryStatus{
		UsedMB:      used,
		AllocMB:     toMB(ms.HeapAlloc),
		SysMB:       toMB(ms.Sys),
		HeapInuseMB: toMB(ms.HeapInuse),
		NumGC:       ms.NumGC,
		CeilingMB:   ceilingMB,
		Level:       memoryLevel(used, ceilingMB),
	}
}

func memoryLevel(usedMB float64, ceilingMB int) string {
	if ceilingMB <= 0 {
		return MemoryNormal
	}

	ratio := usedMB / float64(ceilingMB)
	switch {
	case ratio >= memoryCriticalRatio:
		return MemoryCritical
	case ratio >= memoryWarningRatio:
		return MemoryWarning
	default:
		return MemoryNormal
	}
}

func toMB(b uint64) float64 {
	return float64(b) / bytesPerMB
}
