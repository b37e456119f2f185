package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onsi/gomega"
)

func TestState(t *testing.T) {
	g := gomega.NewWithT(t)
	s := NewState()
	g.Expect(s.Ready()).To(gomega.BeFalse())
	g.Expect(s.Live()).To(gomega.BeFalse())
	g.Expect(s.Snapshot().LastPass).To(gomega.BeNil())

	s.MarkScoreCacheReady()
	g.Expect(s.Ready()).To(gomega.BeTrue())
	g.Expect(s.Live()).To(gomega.BeFalse())

	s.MarkContainersScanned(now)
	g.Expect(s.Live()).To(gomega.BeTrue())
	snap := s.Snapshot()
	g.Expect(snap.ContainersScanned).To(gomega.BeTrue())
	g.Expect(*snap.LastPass).To(gomega.Equal(now))
}

type flakyReloader struct {
	calls atomic.Int32
	fail  int32
}

func (r *flakyReloader) Reload(context.Context) error {
	if r.calls.Add(1) <= r.fail {
		return fmt.Errorf("database is starting up")
	}
	return nil
}

func TestRunScoreReloader_RetriesUntilReady(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := NewState()
	reloader := &flakyReloader{fail: 2}
	done := make(chan struct{})
	go func() {
		RunScoreReloader(ctx, reloader, 10*time.Millisecond, state)
		close(done)
	}()

	g.Eventually(state.Ready, time.Second).Should(gomega.BeTrue())
	g.Expect(reloader.calls.Load()).To(gomega.BeNumerically(">=", 3))
	cancel()
	g.Eventually(done, time.Second).Should(gomega.BeClosed())
}
