package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"multiplayer-quiz-service/internal/app"
	"multiplayer-quiz-service/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type WSHandler struct {
	service  *app.SessionService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex    int    `json:"questionIndex"`
	Text             string `json:"text"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

type advancePayload struct {
	ExpectedIndex int `json:"expectedIndex"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error(), Kind: domain.KindOf(err).String()}}
}

// ServeWS upgrades to a websocket that streams a session: a snapshot first, then patches,
// then a terminated notice if the host deletes the session. Clients holding a
// participantKey may also submit answers and advance triggers over the socket.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	participantKey := r.URL.Query().Get("participantKey")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	// subscribe before the snapshot so nothing between the two is missed
	updates, cancel, err := h.service.Subscribe(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	snapshot, err := h.service.FetchSnapshot(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	enqueue := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	go func() {
		defer close(writerDone)
		// closing here unblocks the read loop when writing stops first
		defer conn.Close()
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("ws write error: %v", err)
					return
				}
				if msg.Type == "terminated" {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session terminated"),
						time.Now().Add(writeWait))
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	enqueue(outboundMessage[any]{Type: "snapshot", Payload: snapshot})

	go func() {
		defer close(updatesDone)
		for {
			select {
			case patch, ok := <-updates:
				if !ok {
					return
				}
				msg := outboundMessage[any]{Type: "patch", Payload: patch}
				if patch.Kind == domain.PatchTerminated {
					msg.Type = "terminated"
				}
				select {
				case send <- msg:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			if participantKey == "" {
				enqueue(errorMessage(domain.ErrEmptyIdentity))
				continue
			}
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload", Kind: domain.KindValidation.String()}})
				continue
			}
			result, err := h.service.SubmitAnswer(ctx, app.SubmitRequest{
				SessionID:        sessionID,
				ParticipantKey:   participantKey,
				QuestionIndex:    payload.QuestionIndex,
				Text:             payload.Text,
				RemainingSeconds: payload.RemainingSeconds,
			})
			if err != nil {
				enqueue(errorMessage(err))
				continue
			}
			enqueue(outboundMessage[any]{Type: "answerResult", Payload: result})
		case "advance":
			var payload advancePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid advance payload", Kind: domain.KindValidation.String()}})
				continue
			}
			if _, err := h.service.AdvanceIfDue(ctx, sessionID, payload.ExpectedIndex); err != nil {
				enqueue(errorMessage(err))
			}
		default:
			enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type", Kind: domain.KindValidation.String()}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
