package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestParsePayload_StepReady(t *testing.T) {
	want := StepReadyPayload{
		TaskID:     uuid.New(),
		StepID:     uuid.New(),
		WorkflowID: uuid.New(),
		Position:   2,
	}
	msg := NewMessage(MessageTypeStepReady, want, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	// Как после доставки: payload приходит map'ом
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var delivered Message
	if err := json.Unmarshal(body, &delivered); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if delivered.Type != MessageTypeStepReady {
		t.Errorf("Type = %s, want %s", delivered.Type, MessageTypeStepReady)
	}
	got, err := ParsePayload[StepReadyPayload](&delivered)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if got != want {
		t.Errorf("ParsePayload() = %+v, want %+v", got, want)
	}
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	a := NewMessage(MessageTypeStepDeadLettered, nil, time.Now())
	b := NewMessage(MessageTypeStepDeadLettered, nil, time.Now())
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("message IDs should be unique, got %q and %q", a.ID, b.ID)
	}
}

func TestWakeHandler(t *testing.T) {
	woken := 0
	h := WakeHandler(func() { woken++ })

	if err := h(context.Background(), &Delivery{}); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if woken != 1 {
		t.Errorf("woken = %d, want 1", woken)
	}
}

func TestWithChannel_NoConnection(t *testing.T) {
	c := newConnection("", nil)

	err := c.WithChannel(context.Background(), nil)
	if err != ErrNoChannel {
		t.Errorf("WithChannel() error = %v, want ErrNoChannel", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.WithChannel(ctx, nil); err != context.Canceled {
		t.Errorf("WithChannel() error = %v, want context.Canceled", err)
	}
}

func TestCheck_NoConnection(t *testing.T) {
	c := newConnection("", nil)

	if err := c.Check(context.Background()); err != ErrNoChannel {
		t.Errorf("Check() error = %v, want ErrNoChannel", err)
	}
}

// fakeAck запоминает, как была подтверждена доставка.
type fakeAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAck) Ack(uint64, bool) error { f.acked = true; return nil }

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked, f.requeue = true, requeue
	return nil
}

func (f *fakeAck) Reject(_ uint64, requeue bool) error { return f.Nack(0, false, requeue) }

func TestConsumer_Settle(t *testing.T) {
	valid, _ := json.Marshal(NewMessage(MessageTypeStepReady, StepReadyPayload{Position: 1}, time.Now()))

	tests := []struct {
		name        string
		body        []byte
		redelivered bool
		handlerErr  error
		wantAck     bool
		wantRequeue bool
		wantCalled  bool
	}{
		{name: "success", body: valid, wantAck: true, wantCalled: true},
		{name: "handler error first delivery", body: valid, handlerErr: errors.New("boom"), wantRequeue: true, wantCalled: true},
		{name: "handler error redelivered", body: valid, redelivered: true, handlerErr: errors.New("boom"), wantCalled: true},
		{name: "malformed body", body: []byte("{not json")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			c := NewConsumer(nil, nil, ConsumerConfig{
				Queue: QueueStepsReady,
				Handler: func(_ context.Context, d *Delivery) error {
					called = true
					if d.Message.Type != MessageTypeStepReady {
						t.Errorf("Type = %s", d.Message.Type)
					}
					return tt.handlerErr
				},
			})

			ack := &fakeAck{}
			raw := amqp.Delivery{Acknowledger: ack, Body: tt.body, Redelivered: tt.redelivered}
			c.settle(raw, c.dispatch(context.Background(), raw))

			if ack.acked != tt.wantAck {
				t.Errorf("acked = %v, want %v", ack.acked, tt.wantAck)
			}
			if !tt.wantAck && !ack.nacked {
				t.Error("expected nack")
			}
			if ack.requeue != tt.wantRequeue {
				t.Errorf("requeue = %v, want %v", ack.requeue, tt.wantRequeue)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestNewConsumer_DefaultPrefetch(t *testing.T) {
	c := NewConsumer(nil, nil, ConsumerConfig{Queue: QueueDLQSteps})
	if c.cfg.Prefetch != 1 {
		t.Errorf("Prefetch = %d, want 1", c.cfg.Prefetch)
	}
	// Stop до Start не паникует
	c.Stop()
}

func TestClose_Idempotent(t *testing.T) {
	c := newConnection("", nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if c.Channel() != nil {
		t.Error("Channel() after Close should be nil")
	}
}
