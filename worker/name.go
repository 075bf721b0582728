package worker

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateName builds the "<hostname>-<short-hex>" worker identity
// reported on the health endpoint and in /api/v1/status, matching the
// original implementation's generate_worker_name.
func GenerateName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
