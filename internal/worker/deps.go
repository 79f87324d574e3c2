package worker

import (
	"time"

	"github.com/redis/go-redis/v9"

	"relecloud/internal/pkg/logger"
	"relecloud/internal/ports"
)

type Deps struct {
	RDB       redis.UniversalClient
	Store     ports.ObjectStore
	QueueName string
	Log       *logger.Logger
	// PopTimeout bounds each BRPOP so cancellation is noticed. Defaults to 5s.
	PopTimeout time.Duration
}
