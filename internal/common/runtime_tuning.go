package common

import (
	"os"
	"runtime"
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

// Memory ceilings per machine size. The router keeps little heap: the fill
// cache and the order archive dominate.
const (
	SmallServerMemLimit = 1 * 1024 * 1024 * 1024 // 1GB, up to 2 vCPU
	LargeServerMemLimit = 4 * 1024 * 1024 * 1024 // 4GB
)

func detectMemLimit() int64 {
	if runtime.NumCPU() <= 2 {
		return SmallServerMemLimit
	}
	return LargeServerMemLimit
}

// InitRuntime sets a soft memory limit unless GOMEMLIMIT is given and logs the
// runtime settings. GOGC and GOMAXPROCS are left to the Go defaults.
func InitRuntime() {
	if os.Getenv("GOMEMLIMIT") == "" {
		limit := detectMemLimit()
		debug.SetMemoryLimit(limit)
		log.Info().
			Int64("GOMEMLIMIT_bytes", limit).
			Msg("[runtime] Set memory limit")
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	log.Info().
		Int("num_cpu", runtime.NumCPU()).
		Int("gomaxprocs", runtime.GOMAXPROCS(0)).
		Uint64("heap_alloc_mb", memStats.HeapAlloc/1024/1024).
		Str("go_version", runtime.Version()).
		Msg("[runtime] Current runtime settings")
}
