package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mantonx/vodforge/internal/events"
	"github.com/mantonx/vodforge/internal/jobs"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The status API has no auth layer; same policy as the REST routes.
		return true
	},
}

// statusMessage is the first frame on the events socket, so a client that
// connects late still learns the job's current state.
type statusMessage struct {
	Type string        `json:"type"`
	Job  jobs.Snapshot `json:"job"`
}

// handleJobEvents streams a job's lifecycle events. The stream ends when
// the job reaches a terminal state or the client goes away.
func (s *Server) handleJobEvents(c *gin.Context) {
	id := c.Param("id")

	if _, err := s.store.Snapshot(id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	// Subscribe before taking the snapshot so no event falls in the gap:
	// anything that happens after this point arrives on the channel.
	ch, cancel := s.bus.Subscribe(64)
	defer cancel()

	snap, err := s.store.Snapshot(id)
	if err != nil {
		return
	}

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(statusMessage{Type: "job.status", Job: snap}); err != nil {
		return
	}
	if snap.State.IsTerminal() {
		return
	}

	for {
		select {
		case <-disconnected:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.JobID != id {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == events.EventJobCompleted || ev.Type == events.EventJobFailed {
				return
			}
		}
	}
}
