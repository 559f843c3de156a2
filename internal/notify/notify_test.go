package notify

import (
	"errors"
	"testing"

	"mirsal/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

type countingNotifier struct {
	started, finished, failed int
}

func (n *countingNotifier) SyncStarted(int64)     { n.started++ }
func (n *countingNotifier) SyncFinished(int, int) { n.finished++ }
func (n *countingNotifier) EnqueueFailed(error)   { n.failed++ }

func TestMultiFanOut(t *testing.T) {
	a := &countingNotifier{}
	b := &countingNotifier{}
	m := Multi{a, b}

	m.SyncStarted(3)
	m.SyncFinished(2, 1)
	m.EnqueueFailed(errors.New("disk full"))

	for _, n := range []*countingNotifier{a, b} {
		if n.started != 1 || n.finished != 1 || n.failed != 1 {
			t.Errorf("expected every sink to see every event, got %+v", n)
		}
	}
}
