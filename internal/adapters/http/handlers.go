package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/gin-gonic/gin"
)

type handlers struct {
	orch *orch.Orchestrator
}

type roomResponse struct {
	domain.RoomInfo
	Members []domain.Member `json:"members"`
}

type metricsResponse struct {
	Rooms             int   `json:"rooms"`
	Peers             int   `json:"peers"`
	DroppedEvents     int64 `json:"dropped_events"`
	RecordingsStarted int64 `json:"recordings_started"`
	RecordingsStopped int64 `json:"recordings_stopped"`
	RecordingsActive  int64 `json:"recordings_active"`
	Uploads           int64 `json:"uploads"`
	UploadFailures    int64 `json:"upload_failures"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) metrics(c *gin.Context) {
	rooms, peers := h.orch.Registry.Stats()
	s := h.orch.Stats()
	c.JSON(http.StatusOK, metricsResponse{
		Rooms:             rooms,
		Peers:             peers,
		DroppedEvents:     s.DroppedEvents.Load(),
		RecordingsStarted: s.RecordingsStarted.Load(),
		RecordingsStopped: s.RecordingsStopped.Load(),
		RecordingsActive:  s.RecordingsActive.Load(),
		Uploads:           s.Uploads.Load(),
		UploadFailures:    s.UploadFailures.Load(),
	})
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.orch.Registry.List()})
}

func (h *handlers) room(c *gin.Context) {
	name, err := domain.NewRoomName(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, members, err := h.orch.RoomDetails(name)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, roomResponse{RoomInfo: info, Members: members})
}
