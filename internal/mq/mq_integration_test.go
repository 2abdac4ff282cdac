//go:build integration

package mq

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRabbit(t *testing.T) *Connection {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3-alpine",
			ExposedPorts: []string{"5672/tcp"},
			Env: map[string]string{
				"RABBITMQ_DEFAULT_USER": "stellara",
				"RABBITMQ_DEFAULT_PASS": "stellara",
			},
			WaitingFor: wait.ForLog("Server startup complete").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start rabbitmq container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate rabbitmq container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("rabbitmq endpoint: %v", err)
	}

	conn, err := NewConnection("amqp://stellara:stellara@"+endpoint+"/", slog.Default())
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestPublishStepReady_WakesConsumer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn := setupRabbit(t)
	if err := SetupTopology(ctx, conn); err != nil {
		t.Fatalf("SetupTopology() error = %v", err)
	}
	// Повторное объявление не ломается
	if err := SetupTopology(ctx, conn); err != nil {
		t.Fatalf("second SetupTopology() error = %v", err)
	}

	woken := make(chan struct{}, 1)
	consumer := NewConsumer(conn, nil, ConsumerConfig{
		Queue:   QueueStepsReady,
		Handler: WakeHandler(func() { woken <- struct{}{} }),
	})
	go consumer.Start(ctx)
	defer consumer.Stop()

	pub := NewPublisher(conn, nil)
	task := &domain.QueueTask{ID: uuid.New(), StepID: uuid.New(), WorkflowID: uuid.New()}
	if err := pub.StepReady(ctx, task); err != nil {
		t.Fatalf("StepReady() error = %v", err)
	}

	select {
	case <-woken:
	case <-ctx.Done():
		t.Fatal("consumer did not receive step.ready")
	}
}

func TestPublishDeadLettered(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn := setupRabbit(t)
	if err := SetupTopology(ctx, conn); err != nil {
		t.Fatalf("SetupTopology() error = %v", err)
	}

	got := make(chan StepDeadLetteredPayload, 1)
	consumer := NewConsumer(conn, nil, ConsumerConfig{
		Queue: QueueDLQSteps,
		Handler: func(_ context.Context, d *Delivery) error {
			p, err := ParsePayload[StepDeadLetteredPayload](&d.Message)
			if err != nil {
				return err
			}
			got <- p
			return nil
		},
	})
	go consumer.Start(ctx)
	defer consumer.Stop()

	dl := &domain.DeadLetter{
		ID:         uuid.New(),
		TaskID:     uuid.New(),
		StepID:     uuid.New(),
		WorkflowID: uuid.New(),
		Attempts:   3,
		Reason:     "TIMEOUT",
	}
	if err := NewPublisher(conn, nil).TaskDeadLettered(ctx, dl); err != nil {
		t.Fatalf("TaskDeadLettered() error = %v", err)
	}

	select {
	case p := <-got:
		if p.DeadLetterID != dl.ID || p.Attempts != 3 || p.Reason != "TIMEOUT" {
			t.Errorf("payload = %+v", p)
		}
	case <-ctx.Done():
		t.Fatal("dead-letter notification not received")
	}
}
