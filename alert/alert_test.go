package alert

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/virtual-fence/zone"
)

func testEvent() Event {
	return Event{
		SessionID:  "s-1",
		Frame:      42,
		Timestamp:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Persons:    2,
		FootPoints: []zone.Point{zone.Pt(10, 20), zone.Pt(30, 40)},
	}
}

func TestEventJSON(t *testing.T) {
	b, err := testEvent().JSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "s-1", decoded["session_id"])
	assert.Equal(t, 42.0, decoded["frame"])
	assert.Equal(t, 2.0, decoded["persons"])
	assert.Len(t, decoded["foot_points"], 2)
	assert.NotContains(t, decoded, "screenshot")
}

func TestRedisNotifierAppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	n := NewRedis(client, RedisConfig{Stream: "fence:alerts"})
	require.NoError(t, n.Notify(context.Background(), testEvent()))
	require.NoError(t, n.Notify(context.Background(), testEvent()))

	msgs, err := client.XRange(context.Background(), "fence:alerts", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "s-1", msgs[0].Values["session_id"])
	assert.Equal(t, "42", msgs[0].Values["frame"])

	var e Event
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &e))
	assert.Equal(t, testEvent().FootPoints, e.FootPoints)

	// Close leaves a caller-owned client open.
	require.NoError(t, n.Close())
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	n, err := DialRedis(context.Background(), RedisConfig{Addr: mr.Addr(), Stream: "alerts"})
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), testEvent()))
	require.NoError(t, n.Close())

	addr := mr.Addr()
	mr.Close()
	_, err = DialRedis(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}

// fakeToken is an already completed MQTT token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakeClient records publishes. Unused mqtt.Client methods panic via the
// embedded nil interface.
type fakeClient struct {
	mqtt.Client
	mu           sync.Mutex
	topics       []string
	payloads     [][]byte
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return newFakeToken(c.err)
}

func (c *fakeClient) Disconnect(uint) {
	c.disconnected = true
}

func TestMQTTNotifierPublishesJSON(t *testing.T) {
	client := &fakeClient{}
	n := NewMQTT(client, MQTTConfig{Topic: "fence/alerts", QoS: 1})

	require.NoError(t, n.Notify(context.Background(), testEvent()))
	require.Len(t, client.topics, 1)
	assert.Equal(t, "fence/alerts", client.topics[0])

	var e Event
	require.NoError(t, json.Unmarshal(client.payloads[0], &e))
	assert.Equal(t, 42, e.Frame)

	require.NoError(t, n.Close())
	assert.True(t, client.disconnected)
}

func TestMQTTNotifierError(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	n := NewMQTT(client, MQTTConfig{Topic: "fence/alerts"})
	err := n.Notify(context.Background(), testEvent())
	assert.ErrorContains(t, err, "not connected")
}

// stubNotifier counts calls and optionally fails.
type stubNotifier struct {
	calls  int
	err    error
	closed bool
}

func (s *stubNotifier) Notify(ctx context.Context, e Event) error {
	s.calls++
	return s.err
}

func (s *stubNotifier) Close() error {
	s.closed = true
	return nil
}

func TestMultiDeliversToAll(t *testing.T) {
	failing := &stubNotifier{err: errors.New("down")}
	ok := &stubNotifier{}
	m := NewMulti(nil, failing, nil, ok)
	assert.Equal(t, 2, m.Len())

	err := m.Notify(context.Background(), testEvent())
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls, "a failing notifier does not block the others")

	require.NoError(t, m.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}
