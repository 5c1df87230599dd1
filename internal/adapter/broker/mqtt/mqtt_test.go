package mqtt

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/snapkeep/internal/core/domain"
)

func TestPublishToVerneMQ(t *testing.T) {
	if os.Getenv("EXCLUDE_MQTT") != "" {
		t.Skip("EXCLUDE_MQTT set")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	resource, err := pool.Run("vernemq/vernemq", "latest-alpine",
		[]string{"DOCKER_VERNEMQ_USER_foo=bar", "DOCKER_VERNEMQ_ACCEPT_EULA=yes"})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("could not purge vernemq: %v", err)
		}
	})

	url := fmt.Sprintf("mqtt://foo:bar@%s", resource.GetHostPort("1883/tcp"))
	ctx := context.Background()

	var sub *Broker
	require.NoError(t, pool.Retry(func() error {
		var err error
		sub, err = NewBroker(WithURL(url), WithClientID("sub"))
		if err != nil {
			return err
		}
		return sub.Connect(ctx)
	}))
	defer sub.Disconnect()

	received := make(chan string, 1)
	require.NoError(t, sub.Subscribe(ctx, []string{"snapkeep/schedules/+/executions"}, func(topic string, _ []byte) {
		received <- topic
	}))

	pub, err := NewBroker(WithURL(url), WithClientID("pub"))
	require.NoError(t, err)
	require.NoError(t, pub.Connect(ctx))
	defer pub.Disconnect()

	publisher := NewExecutionPublisher(pub, "snapkeep")
	require.NoError(t, publisher.PublishExecution(ctx, &domain.Execution{ID: 1, ScheduleID: 5, Status: domain.ExecutionStatusRunning}))

	select {
	case topic := <-received:
		assert.Equal(t, "snapkeep/schedules/5/executions", topic)
	case <-time.After(10 * time.Second):
		t.Fatal("no message received")
	}
}
