package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Unit Tests ---

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		subject string
		wantErr bool
	}{
		{"foo", false},
		{"foo.bar", false},
		{"drainkit.lifecycle.api", false},
		{"", true},
		{"foo..bar", true},
		{".foo", true},
		{"foo bar", true},
	}

	for _, tt := range tests {
		err := ValidateSubject(tt.subject)
		if tt.wantErr {
			assert.Error(t, err, "ValidateSubject(%q)", tt.subject)
		} else {
			assert.NoError(t, err, "ValidateSubject(%q)", tt.subject)
		}
	}
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "drainkit.lifecycle.api", LifecycleSubject("api"))
	assert.Equal(t, "drainkit.control.api", ControlSubject("api"))
}

func TestMemoryBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	assert.NoError(t, bus.Publish("test", []byte("hello")))
}

func TestMemoryBus_PublishInvalidSubject(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	assert.ErrorIs(t, bus.Publish("", []byte("hello")), ErrInvalidSubject)
}

// --- Integration Tests ---

func TestMemoryBus_Subscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, err := bus.Subscribe("test")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.Publish("test", []byte("hello")))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "hello", string(msg.Data))
		assert.Equal(t, "test", msg.Subject)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestMemoryBus_FanOut(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	var subs []Subscription
	for i := 0; i < 3; i++ {
		sub, err := bus.Subscribe("fan")
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	require.NoError(t, bus.Publish("fan", []byte("x")))

	for i, sub := range subs {
		select {
		case <-sub.Messages():
		case <-time.After(time.Second):
			t.Errorf("subscriber %d did not receive message", i)
		}
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, err := bus.Subscribe("test")
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	assert.NoError(t, sub.Unsubscribe(), "second Unsubscribe")

	require.NoError(t, bus.Publish("test", []byte("after")))

	_, ok := <-sub.Messages()
	assert.False(t, ok, "expected closed channel after unsubscribe")
}

func TestMemoryBus_Request(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, err := bus.Subscribe("control")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	go func() {
		msg := <-sub.Messages()
		bus.Publish(msg.Reply, append([]byte("ack:"), msg.Data...))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := bus.Request(ctx, "control", []byte("rollout"))
	require.NoError(t, err)
	assert.Equal(t, "ack:rollout", string(reply.Data))
}

func TestMemoryBus_RequestNoResponders(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	_, err := bus.Request(context.Background(), "nobody", nil)
	assert.ErrorIs(t, err, ErrNoResponders)
}

func TestMemoryBus_RequestContextDone(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, err := bus.Subscribe("silent")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = bus.Request(ctx, "silent", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())

	sub, err := bus.Subscribe("test")
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, ok := <-sub.Messages()
	assert.False(t, ok, "expected closed channel after bus close")

	assert.ErrorIs(t, bus.Publish("test", nil), ErrClosed)
	_, err = bus.Subscribe("test")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, sub.Unsubscribe())
	assert.NoError(t, bus.Close(), "second Close")
}

func TestMemoryBus_ConcurrentPublish(t *testing.T) {
	bus := NewMemoryBus(Config{BufferSize: 1000})
	defer bus.Close()

	sub, err := bus.Subscribe("load")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish("load", []byte("m"))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sub.Messages(), 500)
}
