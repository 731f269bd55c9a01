package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/paramstream/channel"
	"github.com/c360/paramstream/envelope"
	"github.com/c360/paramstream/errors"
)

// feed is a websocket server serving both feed paths.
type feed struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[string]*websocket.Conn
	received map[string]chan string
}

func newFeed(t *testing.T) *feed {
	t.Helper()
	f := &feed{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(map[string]*websocket.Conn),
		received: map[string]chan string{
			"/" + PrimaryPath:   make(chan string, 100),
			"/" + SecondaryPath: make(chan string, 100),
		},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(func() {
		f.mu.Lock()
		for _, c := range f.conns {
			_ = c.Close()
		}
		f.mu.Unlock()
		f.srv.Close()
	})
	return f
}

func (f *feed) handle(w http.ResponseWriter, r *http.Request) {
	received, ok := f.received[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns[r.URL.Path] = conn
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)
	}
}

func (f *feed) host() string {
	return strings.TrimPrefix(f.srv.URL, "http://")
}

func (f *feed) push(t *testing.T, path, frame string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	conn := f.conns["/"+path]
	require.NotNil(t, conn, "no connection on %s", path)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (f *feed) expect(t *testing.T, path, want string) {
	t.Helper()
	select {
	case got := <-f.received["/"+path]:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s on %s", want, path)
	}
}

func frame(label, value string) string {
	return `{"MGP":{"MGPID":1,"MGPLabel":"` + label + `","ParamVal":"` + value + `"}}`
}

func receive(t *testing.T, sub *Subscription) envelope.Sample {
	t.Helper()
	select {
	case s, ok := <-sub.Samples():
		require.True(t, ok, "subscription closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sample")
		return envelope.Sample{}
	}
}

func testConfig(host string) Config {
	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Primary.Group = "G1"
	cfg.Secondary.Group = "G2"
	cfg.MaxRate = 10
	cfg.MinRate = 1
	cfg.MaxRetries = 2
	cfg.RetryDelay = 10 * time.Millisecond
	return cfg
}

func startLayer(t *testing.T, cfg Config, opts ...Option) *Layer {
	t.Helper()
	l, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop(2 * time.Second) })
	return l
}

func TestNew_RequiresAGroup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "feed.local"

	_, err := New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
	assert.True(t, errors.IsFatal(err))
}

func TestConfig_ChannelConfigs(t *testing.T) {
	cfg := testConfig("feed.local:8080")
	cfg.Scheme = "wss"
	configs := cfg.channelConfigs()
	require.Len(t, configs, 2)

	assert.Equal(t, PrimaryRole, configs[0].Role)
	assert.Equal(t, "wss://feed.local:8080/VPCA", configs[0].URL)
	assert.Equal(t, "G1", configs[0].Group)
	assert.Equal(t, 10, configs[0].MaxRate)
	assert.Equal(t, 1, configs[0].MinRate)
	assert.Equal(t, 2, configs[0].MaxRetries)

	assert.Equal(t, SecondaryRole, configs[1].Role)
	assert.Equal(t, "wss://feed.local:8080/CHAT", configs[1].URL)

	cfg.Primary.Group = ""
	configs = cfg.channelConfigs()
	require.Len(t, configs, 1)
	assert.Equal(t, SecondaryRole, configs[0].Role)
}

func TestConfig_Validate(t *testing.T) {
	cfg := testConfig("")
	assert.True(t, errors.IsInvalid(cfg.Validate()))

	cfg = testConfig("feed.local")
	cfg.Scheme = "http"
	assert.True(t, errors.IsInvalid(cfg.Validate()))

	cfg = testConfig("feed.local")
	assert.NoError(t, cfg.Validate())
}

func TestLayer_MergesBothChannels(t *testing.T) {
	f := newFeed(t)
	l, err := New(testConfig(f.host()))
	require.NoError(t, err)
	sub := l.Subscribe(32)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop(2 * time.Second) })

	f.expect(t, PrimaryPath, `{"WPUSHG":{"WPUSHGID":"G1","Maxrate":10,"Minrate":1}}`)
	f.expect(t, SecondaryPath, `{"WPUSHG":{"WPUSHGID":"G2","Maxrate":10,"Minrate":1}}`)

	for _, v := range []string{"1", "2", "3"} {
		f.push(t, PrimaryPath, frame("a", v))
		f.push(t, SecondaryPath, frame("b", v))
	}

	var fromPrimary, fromSecondary []string
	for i := 0; i < 6; i++ {
		s := receive(t, sub)
		switch s.Channel {
		case PrimaryRole:
			assert.Equal(t, "a", s.Label)
			fromPrimary = append(fromPrimary, s.Value)
		case SecondaryRole:
			assert.Equal(t, "b", s.Label)
			fromSecondary = append(fromSecondary, s.Value)
		default:
			t.Fatalf("unexpected channel %q", s.Channel)
		}
	}
	assert.Equal(t, []string{"1", "2", "3"}, fromPrimary)
	assert.Equal(t, []string{"1", "2", "3"}, fromSecondary)
	assert.True(t, l.Health().IsHealthy())
}

func TestLayer_WriteParameter(t *testing.T) {
	f := newFeed(t)
	l := startLayer(t, testConfig(f.host()))
	f.expect(t, PrimaryPath, `{"WPUSHG":{"WPUSHGID":"G1","Maxrate":10,"Minrate":1}}`)

	require.NoError(t, l.WriteParameter("p_out", 42.5))
	f.expect(t, PrimaryPath, `{"WSP":{"WSPID":"p_out","WSPUnits":"1","WSPVal":"42.5"}}`)
}

func TestLayer_WriteParameterWithoutPrimary(t *testing.T) {
	cfg := testConfig("feed.local")
	cfg.Primary.Group = ""
	l, err := New(cfg)
	require.NoError(t, err)

	err = l.WriteParameter("p_out", 1)
	assert.ErrorIs(t, err, errors.ErrUnsupportedOperation)
}

func TestLayer_WriteQueuedBeforeConnect(t *testing.T) {
	f := newFeed(t)
	cfg := testConfig(f.host())
	cfg.Secondary.Group = ""
	l, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, l.WriteParameter("p_out", "on"))
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop(2 * time.Second) })

	f.expect(t, PrimaryPath, `{"WPUSHG":{"WPUSHGID":"G1","Maxrate":10,"Minrate":1}}`)
	f.expect(t, PrimaryPath, `{"WSP":{"WSPID":"p_out","WSPUnits":"1","WSPVal":"on"}}`)
}

func TestLayer_SubscribeIsHotAndRestartable(t *testing.T) {
	f := newFeed(t)
	cfg := testConfig(f.host())
	cfg.Secondary.Group = ""
	l := startLayer(t, cfg)
	f.expect(t, PrimaryPath, `{"WPUSHG":{"WPUSHGID":"G1","Maxrate":10,"Minrate":1}}`)

	first := l.Subscribe(8)
	f.push(t, PrimaryPath, frame("a", "1"))
	assert.Equal(t, "1", receive(t, first).Value)

	first.Unsubscribe()
	_, open := <-first.Samples()
	assert.False(t, open)
	assert.NotPanics(t, first.Unsubscribe)

	second := l.Subscribe(8)
	f.push(t, PrimaryPath, frame("a", "2"))
	assert.Equal(t, "2", receive(t, second).Value)
}

// refusingDialer refuses one path and dials the rest over websocket.
type refusingDialer struct {
	refuse string
	next   channel.Dialer
}

func (d *refusingDialer) Dial(ctx context.Context, url string) (channel.Conn, error) {
	if strings.HasSuffix(url, d.refuse) {
		return nil, errors.New("connection refused")
	}
	return d.next.Dial(ctx, url)
}

func TestLayer_OneChannelExhaustedOthersContinue(t *testing.T) {
	f := newFeed(t)
	dialer := &refusingDialer{refuse: "/" + SecondaryPath, next: &channel.WebsocketDialer{HandshakeTimeout: time.Second}}
	l, err := New(testConfig(f.host()), WithDialer(dialer))
	require.NoError(t, err)
	sub := l.Subscribe(8)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop(2 * time.Second) })

	f.expect(t, PrimaryPath, `{"WPUSHG":{"WPUSHGID":"G1","Maxrate":10,"Minrate":1}}`)

	secondary := l.Channels()[1]
	select {
	case <-secondary.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("secondary channel did not terminate")
	}
	assert.ErrorIs(t, secondary.Err(), errors.ErrMaxRetriesExceeded)

	f.push(t, PrimaryPath, frame("a", "7"))
	assert.Equal(t, "7", receive(t, sub).Value)

	status := l.Health()
	assert.True(t, status.IsDegraded(), status.Message)

	select {
	case <-l.Done():
		t.Fatal("layer drained while a channel is alive")
	default:
	}
}

func TestLayer_AllChannelsExhausted(t *testing.T) {
	cfg := testConfig("feed.local")
	cfg.MaxRetries = 1
	l, err := New(cfg, WithDialer(&refusingDialer{refuse: ""}))
	require.NoError(t, err)
	sub := l.Subscribe(1)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop(time.Second) })

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("layer did not drain")
	}
	_, open := <-sub.Samples()
	assert.False(t, open)
	assert.True(t, l.Health().IsUnhealthy())

	late := l.Subscribe(1)
	_, open = <-late.Samples()
	assert.False(t, open, "subscriptions after drain are closed")
}

func TestLayer_StopClosesSubscriptions(t *testing.T) {
	f := newFeed(t)
	l, err := New(testConfig(f.host()))
	require.NoError(t, err)
	sub := l.Subscribe(1)
	require.NoError(t, l.Start(context.Background()))
	f.expect(t, PrimaryPath, `{"WPUSHG":{"WPUSHGID":"G1","Maxrate":10,"Minrate":1}}`)

	require.NoError(t, l.Stop(2*time.Second))
	_, open := <-sub.Samples()
	assert.False(t, open)
	<-l.Done()

	assert.NoError(t, l.Stop(time.Second))
	assert.Error(t, l.Start(context.Background()))
}

func TestLayer_StopBeforeStart(t *testing.T) {
	l, err := New(testConfig("feed.local"))
	require.NoError(t, err)
	sub := l.Subscribe(1)

	require.NoError(t, l.Stop(time.Second))
	_, open := <-sub.Samples()
	assert.False(t, open)
	for _, ch := range l.Channels() {
		assert.Equal(t, channel.StateTerminated, ch.State())
	}
}
