package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/makerGeek/claudiomiro/internal/hub"
	"github.com/makerGeek/claudiomiro/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts non-browser clients, same-origin pages and pages
// served from the loopback interface.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// handleWebSocket upgrades GET /ws?project=<path> and runs the connection
// until either side closes it.
func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote an HTTP error
		s.log.LogDebug(fmt.Sprintf("websocket upgrade failed: %v", err))
		return
	}

	conn := newWSConn(uuid.NewString(), ws, s.log)

	project, err := s.validator.Validate(c.Query("project"))
	if err != nil {
		s.log.LogInfo(fmt.Sprintf("client %s rejected: %v", conn.ID(), err))
		s.sendError(conn, err.Error())
		conn.closeWith(websocket.CloseNormalClosure, "unauthorized project")
		conn.wait()
		return
	}

	if err := s.hub.Subscribe(conn, project); err != nil {
		s.sendError(conn, err.Error())
		conn.Close()
		conn.wait()
		return
	}
	s.log.LogInfo(fmt.Sprintf("client %s connected to %s", conn.ID(), project))

	s.readLoop(conn)

	s.hub.Disconnect(conn)
	conn.release()
	conn.wait()
	s.log.LogInfo(fmt.Sprintf("client %s disconnected", conn.ID()))
}

// readLoop handles inbound frames until the connection fails or closes
func (s *Server) readLoop(conn *wsConn) {
	ws := conn.ws
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.LogTrace(fmt.Sprintf("read from client %s: %v", conn.ID(), err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !s.handleInbound(conn, data) {
			return
		}
	}
}

// handleInbound processes one client frame. Malformed frames and unknown
// events are ignored. It returns false when the connection should end.
func (s *Server) handleInbound(conn *wsConn, data []byte) bool {
	var in models.InboundFrame
	if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
		s.log.LogTrace(fmt.Sprintf("ignoring malformed frame from client %s", conn.ID()))
		return true
	}
	if in.Event != models.EventSubscribe {
		s.log.LogTrace(fmt.Sprintf("ignoring %q from client %s", in.Event, conn.ID()))
		return true
	}

	var req models.SubscribeRequest
	if err := json.Unmarshal(in.Data, &req); err != nil {
		s.log.LogTrace(fmt.Sprintf("ignoring malformed subscribe from client %s", conn.ID()))
		return true
	}

	// every re-subscribe is authorized on its own; the old subscription stays on failure
	project, err := s.validator.Validate(req.ProjectPath)
	if err != nil {
		s.log.LogInfo(fmt.Sprintf("client %s re-subscribe rejected: %v", conn.ID(), err))
		s.sendError(conn, err.Error())
		return true
	}

	previous, _ := s.hub.ProjectOf(conn)

	if err := s.hub.Subscribe(conn, project); err != nil {
		if errors.Is(err, hub.ErrHubClosed) {
			return false
		}
		s.sendError(conn, err.Error())
		return true
	}
	if previous == project {
		s.log.LogDebug(fmt.Sprintf("client %s re-subscribed to %s", conn.ID(), project))
	} else {
		s.log.LogInfo(fmt.Sprintf("client %s switched from %s to %s", conn.ID(), previous, project))
	}
	return true
}

func (s *Server) sendError(conn *wsConn, message string) {
	data, err := models.ErrorFrame(message).Marshal()
	if err != nil {
		s.log.LogError(err.Error())
		return
	}
	conn.Send(data)
}
