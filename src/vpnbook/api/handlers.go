package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ICKelin/vpnbook/src/internal/logs"
	"github.com/ICKelin/vpnbook/src/vpnbook/catalog"
	"github.com/ICKelin/vpnbook/src/vpnbook/probe"
	"github.com/ICKelin/vpnbook/src/vpnbook/scrape"
	"github.com/ICKelin/vpnbook/src/vpnbook/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	metrics "github.com/rcrowley/go-metrics"
)

type stateResponse struct {
	Phase          session.Phase `json:"phase"`
	Reason         string        `json:"reason,omitempty"`
	Server         string        `json:"server,omitempty"`
	Host           string        `json:"host,omitempty"`
	HaveCredential bool          `json:"have_credential"`
}

type serverResponse struct {
	Region    string `json:"region"`
	Host      string `json:"host"`
	Label     string `json:"label"`
	Measured  bool   `json:"measured"`
	Reachable bool   `json:"reachable"`
	RTT       int    `json:"rtt_ms,omitempty"`
}

type connectRequest struct {
	Label      string `json:"label"`
	Region     string `json:"region"`
	Host       string `json:"host"`
	Credential string `json:"credential"`
}

type fastestRequest struct {
	Credential string `json:"credential"`
}

func abort(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func (s *Server) state() stateResponse {
	st := s.ctl.State()
	resp := stateResponse{
		Phase:          st.Phase,
		Reason:         st.Reason,
		HaveCredential: s.ctl.Credential() != "",
	}
	if !st.Server.IsZero() {
		resp.Server = st.Server.Label()
		resp.Host = st.Server.Host
	}
	return resp
}

func (s *Server) onState(c *gin.Context) {
	c.JSON(http.StatusOK, s.state())
}

func toServer(e catalog.Entry, m probe.Measurement, measured bool) serverResponse {
	return serverResponse{
		Region:    e.Region,
		Host:      e.Host,
		Label:     e.Label(),
		Measured:  measured,
		Reachable: measured && m.Reachable,
		RTT:       m.RTT,
	}
}

func (s *Server) onServers(c *gin.Context) {
	entries := s.ctl.Catalog().Entries()
	out := make([]serverResponse, 0, len(entries))
	for _, e := range entries {
		m, ok := s.lat.Latency(e)
		out = append(out, toServer(e, m, ok))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) onRefresh(c *gin.Context) {
	ranking := s.ctl.Refresh(c.Request.Context())
	out := make([]serverResponse, 0, len(ranking))
	for _, m := range ranking {
		out = append(out, toServer(m.Server, m, true))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) target(req connectRequest) (catalog.Entry, bool) {
	servers := s.ctl.Catalog()
	if strings.TrimSpace(req.Label) != "" {
		return servers.Lookup(req.Label)
	}
	if strings.TrimSpace(req.Host) == "" {
		return catalog.Entry{}, false
	}
	return servers.Find(req.Region, req.Host)
}

func (s *Server) onConnect(c *gin.Context) {
	req := connectRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	target, ok := s.target(req)
	if !ok {
		abort(c, http.StatusNotFound, errors.New("unknown server"))
		return
	}

	if err := s.ctl.Connect(c.Request.Context(), target, req.Credential); err != nil {
		s.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.state())
}

func (s *Server) onConnectFastest(c *gin.Context) {
	req := fastestRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
	}

	if err := s.ctl.ConnectFastest(c.Request.Context(), req.Credential); err != nil {
		s.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.state())
}

func (s *Server) onDisconnect(c *gin.Context) {
	if err := s.ctl.Disconnect(c.Request.Context()); err != nil {
		s.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.state())
}

func (s *Server) actionError(c *gin.Context, err error) {
	cerr := &session.ConnectError{}
	switch {
	case errors.As(err, &cerr):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":  err.Error(),
			"reason": cerr.Reason,
			"output": cerr.Output,
		})
	case errors.Is(err, session.ErrNoCredential):
		abort(c, http.StatusPreconditionFailed, err)
	case errors.Is(err, session.ErrNoServerReachable):
		abort(c, http.StatusServiceUnavailable, err)
	case errors.Is(err, session.ErrDisconnectFailed):
		abort(c, http.StatusBadGateway, err)
	default:
		abort(c, http.StatusInternalServerError, err)
	}
}

func resolveStatus(err error) int {
	if errors.Is(err, scrape.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func (s *Server) onResolve(c *gin.Context) {
	credential, err := s.ctl.ResolveCredential(c.Request.Context())
	if err != nil {
		abort(c, resolveStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credential": credential})
}

func (s *Server) onImage(c *gin.Context) {
	img, err := s.ctl.ResolveCredentialImage(c.Request.Context())
	if err != nil {
		abort(c, resolveStatus(err), err)
		return
	}
	c.Header("X-Image-Source", img.URL)
	c.Data(http.StatusOK, "image/"+img.Format, img.Data)
}

func (s *Server) onMetrics(c *gin.Context) {
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Status(http.StatusOK)
	metrics.WriteJSONOnce(s.lat.Registry(), c.Writer)
}

func (s *Server) onEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logs.Warn("upgrade event stream fail: %v", err)
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)
	logs.Info("event subscriber %s joined", conn.RemoteAddr())
	defer logs.Info("event subscriber %s left", conn.RemoteAddr())

	// the read side only detects the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	tick := time.NewTicker(pingPeriod)
	defer tick.Stop()

	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				logs.Warn("write event to %s fail: %v", conn.RemoteAddr(), err)
				return
			}
		case <-tick.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
