package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/pipeline"
)

const writeWait = 10 * time.Second

// batchEvents pushes every status change of a batch until it closes or the client leaves.
// The current status is always the first message.
func (s *HTTPServer) batchEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	log := common.LoggerFromContext(r.Context()).With("batch_id", id)

	first, updates, stop, err := s.ingest.Watch(common.UserIDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer stop()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("ws.upgrade.failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	log.Debug("ws.open")

	// The read loop only drains control frames and notices when the client goes away.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(st pipeline.Status) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(sanitizeStatus(st)); err != nil {
			log.Warn("ws.write.failed", "error", err)
			return false
		}
		if st.State != constants.BatchClosed {
			return true
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "batch closed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return false
	}

	if !send(first) {
		return
	}
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case st, ok := <-updates:
			if !ok || !send(st) {
				log.Debug("ws.close")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			log.Debug("ws.client_gone")
			return
		case <-r.Context().Done():
			return
		}
	}
}
