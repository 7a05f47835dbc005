// Package logging wires up apex/log for the forgecache binaries.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/apex/log"
)

// Init sets a compact stderr handler and the log level. An empty level falls
// back to the FORGECACHE_LOG env variable, then to "info".
func Init(level string) {
	if level == "" {
		level = os.Getenv("FORGECACHE_LOG")
	}
	if level == "" {
		level = "info"
	}

	log.SetHandler(&handler{})
	log.SetLevelFromString(level)
}

// handler formats entries as "timestamp L message key=value ..." on stderr.
type handler struct{}

// HandleLog implements the log.Handler interface.
func (h *handler) HandleLog(e *log.Entry) error {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	level := strings.ToUpper(e.Level.String())

	fmt.Fprintf(os.Stderr, "%s %.1s %s", timestamp, level, e.Message)
	for _, f := range e.Fields.Names() {
		fmt.Fprintf(os.Stderr, " %s=%v", f, e.Fields.Get(f))
	}
	fmt.Fprintln(os.Stderr)
	return nil
}
