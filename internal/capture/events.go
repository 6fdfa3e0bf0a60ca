package capture

import (
	"github.com/signlab/signcoach/internal/recorder"
	"github.com/signlab/signcoach/internal/submit"
)

// Events are typed messages consumed by the session's per-state handler
// table. Deferred events (timer ticks, submission results) carry the
// generation they were scheduled under so stale deliveries are discarded.

type event interface {
	eventName() string
}

type startEvent struct{}

func (startEvent) eventName() string { return "start" }

type tickEvent struct {
	gen uint64
}

func (tickEvent) eventName() string { return "tick" }

type stopEvent struct{}

func (stopEvent) eventName() string { return "stop" }

type submitEvent struct{}

func (submitEvent) eventName() string { return "submit" }

type retryEvent struct{}

func (retryEvent) eventName() string { return "retry" }

type uploadEvent struct {
	clip *recorder.Clip
}

func (uploadEvent) eventName() string { return "upload" }

type resultEvent struct {
	gen     uint64
	verdict *submit.Verdict
	err     error
}

func (resultEvent) eventName() string { return "result" }
