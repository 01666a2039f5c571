//go:build integration

package clicks_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MagnunAVF/link-engine/internal/clicks"
)

func startRabbit(t *testing.T) *amqp091.Connection {
	t.Helper()
	ctx := context.Background()

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)

	conn, err := amqp091.Dial(fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRabbitRoundTrip(t *testing.T) {
	conn := startRabbit(t)
	s := newStore(t, 1)

	pubCh, err := conn.Channel()
	require.NoError(t, err)
	require.NoError(t, clicks.DeclareQueue(pubCh, "clicks"))

	pub := clicks.NewRabbitPublisher(pubCh, "clicks")
	for i := 0; i < 5; i++ {
		pub.Enqueue(clicks.Job{LinkID: 1, Timestamp: time.Now()})
	}
	pub.Enqueue(clicks.Job{LinkID: 404, Timestamp: time.Now()})
	require.NoError(t, pubCh.PublishWithContext(context.Background(), "", "clicks", false, false,
		amqp091.Publishing{ContentType: "application/json", Body: []byte("garbage")}))
	pub.Wait()

	subCh, err := conn.Channel()
	require.NoError(t, err)
	consumer := clicks.NewRabbitConsumer(subCh, "clicks", clicks.NewIngestor(s, nil, time.Second),
		clicks.ConsumerConfig{BatchSize: 10, FlushInterval: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return len(s.Clicks()) == 5 }, 10*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	l, err := s.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), l.ClickCount)

	// Rejected deliveries are not requeued.
	q, err := pubCh.QueueDeclarePassive("clicks", true, false, false, false, nil)
	require.NoError(t, err)
	assert.Zero(t, q.Messages)
}
