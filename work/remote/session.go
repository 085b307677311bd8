package remote

import (
	"encoding/json"
	"errors"
	"sync"

	"prism-server/work/playback"
)

// faultReport is a fatal playback error surfaced by the player client.
type faultReport struct {
	Fault   string `json:"fault"`
	Message string `json:"message"`
}

// PlayerSession binds a playback controller to the hub: controller intents
// go out as player directives, player telemetry and faults come back in.
// One session exists per server; every remote drives the same screen.
type PlayerSession struct {
	controller *playback.Controller
	sink       *wsSink
}

// NewPlayerSession builds the session and its controller. The engine
// factory is used for adaptive sources exactly as in local playback.
func NewPlayerSession(hub *Hub, cfg playback.EngineConfig, factory playback.EngineFactory) *PlayerSession {
	sink := &wsSink{hub: hub}
	session := &PlayerSession{
		controller: playback.NewController(sink, factory, cfg, nil),
		sink:       sink,
	}
	hub.AttachSession(session)
	return session
}

// Controller exposes the session's playback controller.
func (s *PlayerSession) Controller() *playback.Controller {
	return s.controller
}

// applyTelemetry feeds player-reported timing back into the controller and
// refreshes the sink's view of the media element.
func (s *PlayerSession) applyTelemetry(t playback.Telemetry) {
	s.sink.update(t)
	s.controller.HandleTimeUpdate(t.CurrentTime)
	s.controller.HandleDurationChange(t.Duration)
	s.controller.HandleBuffering(t.Buffering)
}

// applyFault routes a player-reported fatal error into the recovery ladder.
func (s *PlayerSession) applyFault(report faultReport) {
	fault := playback.FaultOther
	switch report.Fault {
	case "network":
		fault = playback.FaultNetwork
	case "media":
		fault = playback.FaultMedia
	}
	s.controller.ReportFault(fault, errors.New(report.Message))
}

// wsSink implements playback.Sink by forwarding every operation to the
// connected player clients as directives. CurrentTime and Duration are
// answered from the last telemetry the player reported, so seek math runs
// against the player's actual position.
type wsSink struct {
	hub *Hub

	mu        sync.Mutex
	telemetry playback.Telemetry
}

func (s *wsSink) update(t playback.Telemetry) {
	s.mu.Lock()
	s.telemetry = t
	s.mu.Unlock()
}

func (s *wsSink) directive(msgType string, payload any) {
	msg := Message{Type: msgType}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			msg.Payload = data
		}
	}
	s.hub.Broadcast(msg)
}

func (s *wsSink) Play()  { s.directive(TypePlay, nil) }
func (s *wsSink) Pause() { s.directive(TypePause, nil) }

func (s *wsSink) SetVolume(volume float64) { s.directive(TypeVolume, volume) }
func (s *wsSink) SetMuted(muted bool)      { s.directive(TypeMute, muted) }

func (s *wsSink) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetry.CurrentTime
}

func (s *wsSink) SetCurrentTime(seconds float64) { s.directive(TypeSeekTo, seconds) }

func (s *wsSink) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetry.Duration
}

func (s *wsSink) AttachURL(url string) { s.directive(TypeChannel, url) }
func (s *wsSink) Load()                { s.directive(TypeLoad, nil) }
func (s *wsSink) Detach()              { s.directive(TypeDetach, nil) }
