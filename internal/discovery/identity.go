package discovery

import (
	"fmt"
	"hash/fnv"
	"os"
)

// LocalID derives a stable user id from the machine hostname. The same
// machine always advertises the same id, so peers can correlate history
// across sessions without any account system.
func LocalID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	return fmt.Sprintf("user-%08x", h.Sum32())
}

// LocalName returns the human-facing display name, falling back to the
// hostname when no device name is configured.
func LocalName(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}
