package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/domain"
)

const (
	wsMaxDuration  = 5 * time.Minute
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 10 * time.Second
	wsMaxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Stream handles GET /api/v1/pools/:pool/jobs/:id/stream, a WebSocket
// upgrade that blocks until the job's reply arrives (or the connection's
// max lifetime elapses) and then writes the terminal result. Adapted from
// api/internal/delivery/http/websocket_handler.go's ping/read-pump/poll
// loop, with the DB poll replaced by a single blocking Yield call since
// Submission API delivery is push-based, not row-polled.
func (h *SubmissionHandler) Stream(c *gin.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	sj, ok := h.jobs.get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	owner := ownerFromRequest(c)
	if owner != sj.owner {
		c.JSON(http.StatusForbidden, gin.H{"error": "job belongs to a different client"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	defer h.jobs.forget(id)

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout + wsPingInterval))
		return nil
	})

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	type yieldOutcome struct {
		result *domain.Result
		err    error
	}
	yielded := make(chan yieldOutcome, 1)
	go func() {
		result, err := h.api.Yield(c.Request.Context(), owner, sj.job, wsMaxDuration)
		yielded <- yieldOutcome{result: result, err: err}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-clientDone:
			return

		case o := <-yielded:
			if o.err != nil {
				conn.WriteJSON(gin.H{"error": o.err.Error()})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsPongTimeout))
			conn.WriteJSON(o.result)
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job completed"))
			return

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsPongTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
