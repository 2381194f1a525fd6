package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func TaskStatusKey(taskID uuid.UUID) string {
	return fmt.Sprintf("task:%s", taskID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:upload:%s", client)
}
