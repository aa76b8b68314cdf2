package instance

import (
	"os"

	"github.com/angelmondragon/terminalpay-backend/pkg/env"
)

const EnvInstanceID = "TERMINALPAY_INSTANCE_ID"

// ID identifies this process in lock owners and logs. It falls back to the
// hostname, then to a fixed value.
func ID() string {
	fallback := "terminalpay-0"
	if host, err := os.Hostname(); err == nil && host != "" {
		fallback = host
	}
	return env.Get(EnvInstanceID, fallback)
}
