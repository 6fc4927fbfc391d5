package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ICKelin/vpnbook/src/vpnbook/backend"
	"github.com/ICKelin/vpnbook/src/vpnbook/catalog"
	"github.com/ICKelin/vpnbook/src/vpnbook/event"
	"github.com/ICKelin/vpnbook/src/vpnbook/probe"
	"github.com/ICKelin/vpnbook/src/vpnbook/scrape"
	"github.com/ICKelin/vpnbook/src/vpnbook/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	fr = catalog.Entry{Region: "France", Host: "fr200.vpnbook.com"}
	uk = catalog.Entry{Region: "UK", Host: "uk205.vpnbook.com"}
)

type fakeController struct {
	mu         sync.Mutex
	state      session.State
	credential string
	connected  []catalog.Entry
	credArg    string
	err        error
	resolveErr error
}

func (f *fakeController) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) Credential() string {
	return f.credential
}

func (f *fakeController) Catalog() catalog.Catalog {
	return catalog.Catalog{
		{Name: "France", Hosts: []string{fr.Host}},
		{Name: "UK", Hosts: []string{uk.Host}},
	}
}

func (f *fakeController) Connect(ctx context.Context, target catalog.Entry, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.connected = append(f.connected, target)
	f.credArg = credential
	f.state = session.State{Phase: session.PhaseConnected, Server: target}
	return nil
}

func (f *fakeController) ConnectFastest(ctx context.Context, credential string) error {
	return f.Connect(ctx, uk, credential)
}

func (f *fakeController) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.state = session.State{Phase: session.PhaseDisconnected}
	return nil
}

func (f *fakeController) Refresh(ctx context.Context) []probe.Measurement {
	return []probe.Measurement{
		{Server: fr, RTT: 40, Reachable: true},
		{Server: uk},
	}
}

func (f *fakeController) ResolveCredential(ctx context.Context) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return "abc123xyz", nil
}

func (f *fakeController) ResolveCredentialImage(ctx context.Context) (*scrape.Image, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return &scrape.Image{URL: "https://www.vpnbook.com/password.php?t=1", Format: "png", Data: []byte("png")}, nil
}

type fakeLatencies struct {
	registry metrics.Registry
}

func (f *fakeLatencies) Latency(entry catalog.Entry) (probe.Measurement, bool) {
	if entry == fr {
		return probe.Measurement{Server: fr, RTT: 40, Reachable: true}, true
	}
	return probe.Measurement{}, false
}

func (f *fakeLatencies) Registry() metrics.Registry {
	return f.registry
}

func newTestServer() (*Server, *fakeController, *Hub) {
	ctl := &fakeController{state: session.State{Phase: session.PhaseDisconnected}}
	registry := metrics.NewRegistry()
	metrics.GetOrRegisterCounter("unreachable.uk205.vpnbook.com", registry).Inc(2)
	hub := NewHub()
	return NewServer("", ctl, &fakeLatencies{registry: registry}, hub), ctl, hub
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer(t *testing.T) {
	convey.Convey("test api", t, func() {
		s, ctl, _ := newTestServer()

		convey.Convey("state", func() {
			w := do(s, http.MethodGet, "/api/v1/state", "")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			resp := stateResponse{}
			convey.So(json.Unmarshal(w.Body.Bytes(), &resp), convey.ShouldBeNil)
			convey.So(resp.Phase, convey.ShouldEqual, session.PhaseDisconnected)
			convey.So(resp.HaveCredential, convey.ShouldBeFalse)
		})

		convey.Convey("servers with latest latency", func() {
			w := do(s, http.MethodGet, "/api/v1/servers", "")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			out := []serverResponse{}
			convey.So(json.Unmarshal(w.Body.Bytes(), &out), convey.ShouldBeNil)
			convey.So(len(out), convey.ShouldEqual, 2)
			convey.So(out[0].Label, convey.ShouldEqual, "France – FR200")
			convey.So(out[0].RTT, convey.ShouldEqual, 40)
			convey.So(out[1].Measured, convey.ShouldBeFalse)
		})

		convey.Convey("refresh", func() {
			w := do(s, http.MethodPost, "/api/v1/servers/refresh", "")
			out := []serverResponse{}
			convey.So(json.Unmarshal(w.Body.Bytes(), &out), convey.ShouldBeNil)
			convey.So(out[0].Reachable, convey.ShouldBeTrue)
			convey.So(out[1].Reachable, convey.ShouldBeFalse)
		})

		convey.Convey("connect by label", func() {
			w := do(s, http.MethodPost, "/api/v1/connect", `{"label":"UK – UK205","credential":"abc123xyz"}`)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(ctl.connected, convey.ShouldResemble, []catalog.Entry{uk})
			convey.So(ctl.credArg, convey.ShouldEqual, "abc123xyz")
		})

		convey.Convey("connect by host", func() {
			w := do(s, http.MethodPost, "/api/v1/connect", `{"host":"FR200.vpnbook.com"}`)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(ctl.connected, convey.ShouldResemble, []catalog.Entry{fr})
		})

		convey.Convey("connect unknown server", func() {
			w := do(s, http.MethodPost, "/api/v1/connect", `{"label":"Mars – M1"}`)
			convey.So(w.Code, convey.ShouldEqual, http.StatusNotFound)
			convey.So(len(ctl.connected), convey.ShouldEqual, 0)
		})

		convey.Convey("connect failure", func() {
			ctl.err = &session.ConnectError{Server: fr, Reason: backend.ReasonSaturated, Output: "error 807"}
			w := do(s, http.MethodPost, "/api/v1/connect", `{"label":"France – FR200"}`)
			convey.So(w.Code, convey.ShouldEqual, http.StatusBadGateway)
			body := map[string]string{}
			convey.So(json.Unmarshal(w.Body.Bytes(), &body), convey.ShouldBeNil)
			convey.So(body["reason"], convey.ShouldEqual, "saturated")
		})

		convey.Convey("connect fastest without body", func() {
			w := do(s, http.MethodPost, "/api/v1/connect/fastest", "")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(ctl.connected, convey.ShouldResemble, []catalog.Entry{uk})
		})

		convey.Convey("connect fastest unreachable", func() {
			ctl.err = session.ErrNoServerReachable
			w := do(s, http.MethodPost, "/api/v1/connect/fastest", `{}`)
			convey.So(w.Code, convey.ShouldEqual, http.StatusServiceUnavailable)
		})

		convey.Convey("disconnect", func() {
			w := do(s, http.MethodPost, "/api/v1/disconnect", "")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)

			ctl.err = session.ErrDisconnectFailed
			w = do(s, http.MethodPost, "/api/v1/disconnect", "")
			convey.So(w.Code, convey.ShouldEqual, http.StatusBadGateway)
		})

		convey.Convey("credential", func() {
			w := do(s, http.MethodPost, "/api/v1/credential/resolve", "")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, "abc123xyz")

			w = do(s, http.MethodGet, "/api/v1/credential/image", "")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "image/png")

			ctl.resolveErr = scrape.ErrNotFound
			w = do(s, http.MethodPost, "/api/v1/credential/resolve", "")
			convey.So(w.Code, convey.ShouldEqual, http.StatusNotFound)
		})

		convey.Convey("metrics", func() {
			w := do(s, http.MethodGet, "/api/v1/metrics", "")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, "unreachable.uk205.vpnbook.com")
			convey.So(w.Body.String(), convey.ShouldContainSubstring, "events.dropped")
		})
	})
}

func TestHub(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe()
	b := hub.Subscribe()
	assert.Equal(t, 2, hub.Len())

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(event.Notice(event.LevelInfo, "m"))
	}
	assert.Equal(t, subscriberBuffer, len(a))
	assert.Equal(t, subscriberBuffer, len(b))
	assert.Equal(t, int64(20), hub.Dropped())

	hub.Unsubscribe(a)
	hub.Unsubscribe(a)
	assert.Equal(t, 1, hub.Len())
	_, ok := <-a
	for ok {
		_, ok = <-a
	}
}

func TestEventStream(t *testing.T) {
	s, _, hub := newTestServer()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Nil(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Publish(event.StateChanged("connected", "", fr))

	e := event.Event{}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	assert.Nil(t, conn.ReadJSON(&e))
	assert.Equal(t, event.KindStateChanged, e.Kind)
	assert.Equal(t, "connected", e.State)
	assert.Equal(t, fr, e.Server)

	assert.Nil(t, s.Shutdown(context.Background()))
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}
