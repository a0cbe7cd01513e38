package instance

import "os"

// GetID returns the process instance identifier: BOARDFEED_INSTANCE_ID, then
// the hostname, then a fixed default.
func GetID() string {
	if id := os.Getenv("BOARDFEED_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "instance-0"
}
