// Package zlog is the runtime's diagnostic logger: discarded by
// default, redirected to a file under config.GetLogPath() when
// ZPLC_DEBUG is set. It is never part of the debug-frame stream
// (spec §4.5 keeps frames and shell/diagnostic output distinct); this
// is for the host process's own operational logging.
package zlog

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/zplc/zplc-core/config"
)

var (
	mu     sync.Mutex
	logger *log.Logger
)

func init() {
	if os.Getenv("ZPLC_DEBUG") != "" {
		logPath := filepath.Join(config.GetLogPath(), "zplc-debug.log")
		f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600) // #nosec G304 -- fixed filename under the runtime's own log directory
		if err != nil {
			logger = log.New(os.Stderr, "zplc: ", log.Ltime|log.Lmicroseconds|log.Lshortfile)
		} else {
			logger = log.New(f, "zplc: ", log.Ltime|log.Lmicroseconds|log.Lshortfile)
		}
	} else {
		logger = log.New(io.Discard, "", 0)
	}
}

// Printf logs a formatted diagnostic line when ZPLC_DEBUG is set or
// SetOutput has redirected the logger; it is discarded otherwise.
func Printf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	logger.Printf(format, args...)
}

// Println logs a diagnostic line when ZPLC_DEBUG is set or SetOutput
// has redirected the logger; it is discarded otherwise.
func Println(args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	logger.Println(args...)
}

// SetOutput redirects the logger, for tests that need to assert on
// logged content instead of the default file/discard target.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}
