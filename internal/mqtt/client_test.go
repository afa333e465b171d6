package mqtt

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/observability/metrics"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	retain  bool
	payload []byte
}

// fakePaho records publishes instead of talking to a broker.
type fakePaho struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	publishToken paho.Token
	messages     []published
	opts         *paho.ClientOptions
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }
func (f *fakePaho) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = f.connectErr == nil
	return completedToken(f.connectErr)
}
func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}
func (f *fakePaho) Publish(topic string, _ byte, retained bool, payload any) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := payload.([]byte)
	f.messages = append(f.messages, published{topic: topic, retain: retained, payload: b})
	if f.publishToken != nil {
		return f.publishToken
	}
	return completedToken(nil)
}
func (f *fakePaho) Subscribe(string, byte, paho.MessageHandler) paho.Token {
	return completedToken(nil)
}
func (f *fakePaho) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return completedToken(nil)
}
func (f *fakePaho) Unsubscribe(...string) paho.Token { return completedToken(nil) }
func (f *fakePaho) AddRoute(string, paho.MessageHandler) {}
func (f *fakePaho) OptionsReader() paho.ClientOptionsReader {
	return paho.NewOptionsReader(f.opts)
}

func newFakeClient(t *testing.T, fake *fakePaho, mutate func(*Config)) (*client, *metrics.MQTTMetrics) {
	t.Helper()

	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1883"
	cfg.ReconnectCooldown = 0
	cfg.PublishTimeout = 200 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := NewClient(cfg, m)
	require.NoError(t, err)
	impl, ok := c.(*client)
	require.True(t, ok)
	impl.newPaho = func(opts *paho.ClientOptions) paho.Client {
		fake.opts = opts
		return fake
	}
	t.Cleanup(impl.Disconnect)
	return impl, m
}

func TestConnectAndPublish(t *testing.T) {
	t.Parallel()

	fake := &fakePaho{}
	c, m := newFakeClient(t, fake, func(cfg *Config) { cfg.Retain = true })

	require.NoError(t, c.Connect(t.Context()))
	assert.True(t, c.IsConnected())
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ConnectionStatus), 0)

	reader := c.internalClient.OptionsReader()
	assert.Equal(t, "cropscan", reader.ClientID())

	require.NoError(t, c.Publish(t.Context(), "farm/scans", []byte(`{"id":1}`)))
	require.Len(t, fake.messages, 1)
	assert.Equal(t, "farm/scans", fake.messages[0].topic)
	assert.True(t, fake.messages[0].retain)
	assert.JSONEq(t, `{"id":1}`, string(fake.messages[0].payload))
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.MessagesDelivered), 0)

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.ConnectionStatus), 0)
}

func TestPublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	c, _ := newFakeClient(t, &fakePaho{}, nil)
	err := c.Publish(t.Context(), "farm/scans", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
}

func TestPublishTimeout(t *testing.T) {
	t.Parallel()

	fake := &fakePaho{publishToken: pendingToken()}
	c, m := newFakeClient(t, fake, nil)
	require.NoError(t, c.Connect(t.Context()))

	err := c.Publish(t.Context(), "farm/scans", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish timeout")
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Errors), 0)
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	fake := &fakePaho{connectErr: errors.NewStd("not authorized")}
	c, _ := newFakeClient(t, fake, nil)

	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))
	assert.False(t, c.IsConnected())
}

func TestConnectCooldown(t *testing.T) {
	t.Parallel()

	c, _ := newFakeClient(t, &fakePaho{}, func(cfg *Config) { cfg.ReconnectCooldown = time.Hour })
	require.NoError(t, c.Connect(t.Context()))

	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

func TestConnectUnresolvableHost(t *testing.T) {
	t.Parallel()

	c, _ := newFakeClient(t, &fakePaho{}, func(cfg *Config) { cfg.Broker = "tcp://unresolvable.invalid:1883" })

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	err := c.Connect(ctx)
	require.Error(t, err)
	var dnsErr *net.DNSError
	assert.True(t, errors.As(err, &dnsErr), "got %v", err)
}

func TestNewClientRequiresBroker(t *testing.T) {
	t.Parallel()

	_, err := NewClient(DefaultConfig(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromSettings(&conf.MQTTSettings{
		Broker:  "tcp://broker:1883",
		Topic:   "farm/scans",
		Retain:  true,
		Timeout: 3 * time.Second,
	})
	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, "farm/scans", cfg.Topic)
	assert.Equal(t, "cropscan", cfg.ClientID)
	assert.True(t, cfg.Retain)
	assert.Equal(t, 3*time.Second, cfg.PublishTimeout)
}
