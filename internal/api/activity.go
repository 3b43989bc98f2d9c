package api

import (
	"github.com/google/uuid"
	"github.com/hbomb79/anyvid/internal/api/controllers/jobs"
	"github.com/hbomb79/anyvid/internal/api/util"
	"github.com/hbomb79/anyvid/internal/engine"
	"github.com/hbomb79/anyvid/internal/event"
	"github.com/hbomb79/anyvid/internal/http/websocket"
)

const (
	TITLE_JOB_UPDATE    = "JOB_UPDATE"
	TITLE_JOB_PROGRESS  = "JOB_PROGRESS"
	TITLE_JOB_REMOVED   = "JOB_REMOVED"
	TITLE_ENGINE_UPDATE = "ENGINE_UPDATE"
)

type (
	engineState interface {
		State() engine.State
	}

	// broadcaster relays events from the event bus to every client
	// connected to the activity socket.
	broadcaster struct {
		socketHub *websocket.SocketHub
		jobs      jobs.Service
		engine    engineState
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, jobService jobs.Service, engine engineState) *broadcaster {
	b := &broadcaster{socketHub, jobService, engine}
	socketHub.WithConnectionCallback(b.connectionState)

	return b
}

func (hub *broadcaster) RegisterHandlers(bus event.EventHandler) {
	bus.RegisterHandlerFunction(event.JOB_UPDATE, hub.handleJobEvent)
	bus.RegisterHandlerFunction(event.JOB_PROGRESS, hub.handleJobEvent)
	bus.RegisterHandlerFunction(event.JOB_REMOVED, hub.handleJobEvent)
	bus.RegisterHandlerFunction(event.ENGINE_UPDATE, hub.handleEngineEvent)
}

func (hub *broadcaster) handleJobEvent(ev event.Event, payload event.Payload) {
	id := payload.(uuid.UUID)
	switch ev {
	case event.JOB_REMOVED:
		hub.broadcast(TITLE_JOB_REMOVED, map[string]interface{}{"id": id})
		return
	case event.JOB_PROGRESS:
		if job, ok := hub.jobs.Job(id); ok {
			hub.broadcast(TITLE_JOB_PROGRESS, map[string]interface{}{"id": id, "progress": job.Progress()})
		}
		return
	}

	if job, ok := hub.jobs.Job(id); ok {
		hub.broadcast(TITLE_JOB_UPDATE, map[string]interface{}{"id": id, "job": jobs.NewDto(job)})
	}
}

func (hub *broadcaster) handleEngineEvent(_ event.Event, payload event.Payload) {
	hub.broadcast(TITLE_ENGINE_UPDATE, map[string]interface{}{"state": payload.(string)})
}

// connectionState furnishes new socket clients with the current engine
// state and job list.
func (hub *broadcaster) connectionState() map[string]interface{} {
	return map[string]interface{}{
		"engine": string(hub.engine.State()),
		"jobs":   util.ApplyConversion(hub.jobs.AllJobs(), jobs.NewDto),
	}
}

func (hub *broadcaster) broadcast(title string, body map[string]interface{}) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  body,
		Type:  websocket.Update,
	})
}
