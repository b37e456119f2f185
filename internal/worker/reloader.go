package worker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

type ScoreReloader interface {
	Reload(ctx context.Context) error
}

// RunScoreReloader reloads scores now and then every interval until ctx is
// done. A failed reload is retried at the next period.
func RunScoreReloader(ctx context.Context, scores ScoreReloader, interval time.Duration, state *State) {
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		if err := scores.Reload(ctx); err != nil {
			log.WithError(err).Error("score cache reload failed")
			return
		}
		state.MarkScoreCacheReady()
	}, interval)
}
