package steps

import (
	"context"
	"fmt"
	"time"
)

const StepTypeDelay = "delay"

// DelayStep приостанавливает workflow.
//
//	duration: 1m30s        # или duration_sec / duration_ms
//	until: 2026-03-01T09:00:00Z
//
// until в прошлом завершает шаг сразу. Outputs: {"duration_ms": N}.
type DelayStep struct {
	now func() time.Time
}

func NewDelayStep() *DelayStep {
	return &DelayStep{now: time.Now}
}

func (s *DelayStep) Type() string { return StepTypeDelay }

// Execute ждёт нужное время; отмена ctx прерывает ожидание.
func (s *DelayStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	wait, err := s.waitFor(req.Config)
	if err != nil {
		return nil, err
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		case <-timer.C:
		}
	}
	return NewResponse(map[string]any{"duration_ms": wait.Milliseconds()}), nil
}

func (s *DelayStep) waitFor(config map[string]any) (time.Duration, error) {
	if raw := GetConfigString(config, "until"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: bad until %q", ErrInvalidConfig, StepTypeDelay, raw)
		}
		return max(at.Sub(s.now()), 0), nil
	}

	if raw := GetConfigString(config, "duration"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("%w: %s: bad duration %q", ErrInvalidConfig, StepTypeDelay, raw)
		}
		return d, nil
	}

	switch {
	case GetConfigInt(config, "duration_sec") > 0:
		return time.Duration(GetConfigInt(config, "duration_sec")) * time.Second, nil
	case GetConfigInt(config, "duration_ms") > 0:
		return time.Duration(GetConfigInt(config, "duration_ms")) * time.Millisecond, nil
	}
	return 0, fmt.Errorf("%w: %s: one of until, duration, duration_sec, duration_ms is required",
		ErrInvalidConfig, StepTypeDelay)
}
