package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// event is the websocket envelope. Type is one of "order", "trade",
// "execution", "violation".
type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// handleWebsocket streams engine events to the client until it disconnects.
// Each connection gets its own bus subscriptions; slow clients drop events
// at the bus rather than stalling the engine.
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	orders := s.bus.SubscribeOrders()
	trades := s.bus.SubscribeTrades()
	executions := s.bus.SubscribeExecutions()
	violations := s.bus.SubscribeViolations()

	// Reader goroutine: we never expect client frames, but reading is what
	// surfaces the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	write := func(ev event) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(ev); err != nil {
			s.logger.Debug("websocket write failed", zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case <-done:
			return
		case o, ok := <-orders:
			if !ok || !write(event{Type: "order", Data: o}) {
				return
			}
		case t, ok := <-trades:
			if !ok || !write(event{Type: "trade", Data: t}) {
				return
			}
		case r, ok := <-executions:
			if !ok || !write(event{Type: "execution", Data: r}) {
				return
			}
		case v, ok := <-violations:
			if !ok || !write(event{Type: "violation", Data: v}) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
