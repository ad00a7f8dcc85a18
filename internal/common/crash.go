// -----------------------------------------------------------------------
// Crash Protection - Fatal error handling and crash file generation
// -----------------------------------------------------------------------

package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

var (
	crashMu     sync.RWMutex
	crashLogDir = "./logs"
	activeJobs  = map[string]time.Time{}
)

// InstallCrashHandler sets the directory crash reports are written to.
// Call at the start of main() alongside a deferred RecoverWithCrashFile.
func InstallCrashHandler(logDir string) {
	crashMu.Lock()
	if logDir != "" {
		crashLogDir = logDir
	}
	dir := crashLogDir
	crashMu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to create log directory: %v\n", err)
	}
}

// TrackJob records a job as running so a crash report can name it.
// The returned func removes it again.
func TrackJob(jobID string) func() {
	crashMu.Lock()
	activeJobs[jobID] = time.Now()
	crashMu.Unlock()

	return func() {
		crashMu.Lock()
		delete(activeJobs, jobID)
		crashMu.Unlock()
	}
}

// buildCrashReport renders the panic, the jobs in flight and runtime state
func buildCrashReport(panicVal interface{}, stackTrace string, now time.Time) []byte {
	var report bytes.Buffer

	fmt.Fprintf(&report, "=== BUGOWL CRASH REPORT ===\n")
	fmt.Fprintf(&report, "Time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&report, "Version: %s\n\n", GetFullVersion())

	fmt.Fprintf(&report, "=== PANIC ===\n%v\n\n", panicVal)
	fmt.Fprintf(&report, "=== STACK TRACE ===\n%s\n\n", stackTrace)

	crashMu.RLock()
	fmt.Fprintf(&report, "=== JOBS IN FLIGHT (%d) ===\n", len(activeJobs))
	for id, started := range activeJobs {
		fmt.Fprintf(&report, "%s running for %s\n", id, now.Sub(started).Round(time.Second))
	}
	crashMu.RUnlock()
	report.WriteString("\n")

	fmt.Fprintf(&report, "=== ALL GOROUTINES ===\n%s\n\n", GetAllGoroutineStacks())

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	fmt.Fprintf(&report, "=== SYSTEM INFO ===\n")
	fmt.Fprintf(&report, "NumGoroutine: %d\nNumCPU: %d\nGOOS: %s\nGOARCH: %s\n",
		runtime.NumGoroutine(), runtime.NumCPU(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&report, "Alloc: %d MB\nSys: %d MB\nNumGC: %d\n\n",
		memStats.Alloc/1024/1024, memStats.Sys/1024/1024, memStats.NumGC)

	report.WriteString("=== END CRASH REPORT ===\n")
	return report.Bytes()
}

// WriteCrashFile writes a crash report and returns its path.
// Falls back to stderr when the file cannot be written.
func WriteCrashFile(panicVal interface{}, stackTrace string) string {
	now := time.Now()
	report := buildCrashReport(panicVal, stackTrace, now)

	crashMu.RLock()
	crashPath := filepath.Join(crashLogDir, fmt.Sprintf("crash-%s.log", now.Format("2006-01-02T15-04-05")))
	crashMu.RUnlock()

	// Unbuffered write, the process is about to exit
	if err := os.WriteFile(crashPath, report, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to write crash file: %v\n%s", err, report)
		return ""
	}

	fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - Report saved to: %s !!!\n", crashPath)
	fmt.Fprintf(os.Stderr, "Panic: %v\n", panicVal)
	return crashPath
}

// GetAllGoroutineStacks returns stack traces for all goroutines
func GetAllGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return string(buf[:n])
		}
		if len(buf) >= 64*1024*1024 {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
	}
}

// GetStackTrace returns the current goroutine's stack trace
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// RecoverWithCrashFile writes a crash report for a panic and exits.
// Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		WriteCrashFile(r, GetStackTrace())
		os.Exit(1)
	}
}
