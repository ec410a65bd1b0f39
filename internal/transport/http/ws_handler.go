package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gauntlet-service/internal/app"
	"gauntlet-service/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Outbound message types that are replies rather than group broadcasts.
const (
	msgJoined       = "joined"
	msgAnswerResult = "answer_result"
	msgFinalScores  = "final_scores"
	msgError        = "error"
)

// sessionRefreshInterval is how often an idle connection re-reads its binding,
// which also keeps a TTL-backed registry entry alive.
const sessionRefreshInterval = time.Minute

type WSHandler struct {
	service      *app.GameService
	log          *zap.Logger
	upgrader     websocket.Upgrader
	refreshEvery time.Duration
}

func NewWSHandler(service *app.GameService, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service:      service,
		log:          log,
		refreshEvery: sessionRefreshInterval,
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

type groupPayload struct {
	GroupID int64 `json:"group_id"`
}

type advancePayload struct {
	GroupID       int64 `json:"group_id"`
	QuestionIndex *int  `json:"question_index"`
}

type answerPayload struct {
	GroupID       int64    `json:"group_id"`
	QuestionIndex *int     `json:"q_index"`
	Answer        string   `json:"answer"`
	TimeTaken     *float64 `json:"time_taken"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
	closing bool
}

var closeMessage = outboundMessage{closing: true}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades an authenticated request and relays the group's events to it.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.service.Authenticate(r.Context(), sessionToken(r))
	if err != nil {
		if errors.Is(err, domain.ErrUnknownSession) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		h.log.Error("ws authenticate failed", zap.Error(err))
		http.Error(w, internalMessage, http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	log := h.log.With(zap.String("conn", connID), zap.String("name", identity.Name), zap.Int64("group", identity.GroupID))
	ctx := r.Context()

	// Subscribe before binding so this connection sees its own lobby update.
	updates, cancel := h.service.Subscribe(identity.GroupID)
	defer cancel()
	if err := h.service.Connect(ctx, connID, identity); err != nil {
		log.Error("ws connect failed", zap.Error(err))
		_ = conn.WriteJSON(outboundMessage{Type: msgError, Payload: errorPayload{Message: internalMessage}})
		return
	}
	defer h.service.Disconnect(context.Background(), connID)
	log.Debug("ws connected")

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// The writer is the only goroutine that writes data frames to conn.
	go func() {
		defer close(writerDone)
		for msg := range send {
			err := writeMessage(conn, msg)
			if err == nil && !msg.closing {
				continue
			}
			if err != nil {
				log.Debug("ws write error", zap.Error(err))
			}
			// Closing unblocks the reader. Keep draining so senders never block on a dead connection.
			_ = conn.Close()
			for range send {
			}
			return
		}
	}()

	send <- outboundMessage{Type: msgJoined, Payload: identity}

	go func() {
		defer close(updatesDone)
		refresh := time.NewTicker(h.refreshEvery)
		defer refresh.Stop()
		push := func(msg outboundMessage) bool {
			select {
			case send <- msg:
				return true
			case <-closeSignals:
				return false
			}
		}
		for {
			select {
			case ev, ok := <-updates:
				if !ok {
					return
				}
				if ev.Type == domain.EventSessionEnded {
					if ended, _ := ev.Payload.(domain.SessionEnded); ended.ParticipantID == identity.ParticipantID {
						log.Debug("ws session ended")
						push(errorMessage(domain.ErrUnknownSession))
						push(closeMessage)
						return
					}
					continue
				}
				if !push(outboundMessage{Type: string(ev.Type), Payload: ev.Payload}) {
					return
				}
			case <-refresh.C:
				if _, err := h.service.Identify(ctx, connID); err != nil {
					if !errors.Is(err, domain.ErrUnknownSession) {
						log.Warn("ws session refresh failed", zap.Error(err))
						continue
					}
					log.Debug("ws session expired")
					push(errorMessage(err))
					push(closeMessage)
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		// Resolve per message: a logged-out or expired binding must not keep acting.
		current, err := h.service.Identify(ctx, connID)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownSession) {
				send <- errorMessage(err)
				break
			}
			log.Error("ws session lookup failed", zap.Error(err))
			send <- errorMessage(err)
			continue
		}
		var inbound inboundMessage
		if err := json.Unmarshal(data, &inbound); err != nil {
			send <- errorMessage(domain.ErrMalformedMessage)
			continue
		}
		for _, reply := range h.handle(ctx, log, current, inbound) {
			send <- reply
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
	log.Debug("ws disconnected")
}

// handle processes one inbound message. A panic is turned into an error reply.
func (h *WSHandler) handle(ctx context.Context, log *zap.Logger, identity domain.Identity, in inboundMessage) (replies []outboundMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("ws handler panic", zap.String("type", in.Type), zap.Any("panic", rec), zap.Stack("stack"))
			replies = []outboundMessage{errorMessage(fmt.Errorf("panic: %v", rec))}
		}
	}()

	reply, err := h.dispatch(ctx, identity, in)
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			log.Error("ws message failed", zap.String("type", in.Type), zap.Error(err))
		} else {
			log.Debug("ws message refused", zap.String("type", in.Type), zap.Error(err))
		}
		return []outboundMessage{errorMessage(err)}
	}
	if reply == nil {
		return nil
	}
	return []outboundMessage{*reply}
}

func (h *WSHandler) dispatch(ctx context.Context, identity domain.Identity, in inboundMessage) (*outboundMessage, error) {
	switch in.Type {
	case "join_lobby":
		groupID, err := targetGroup(identity, in.Payload)
		if err != nil {
			return nil, err
		}
		roster, err := h.service.Lobby(ctx, groupID)
		if err != nil {
			return nil, err
		}
		return &outboundMessage{Type: string(domain.EventLobbyUpdate), Payload: domain.LobbyUpdate{Players: roster}}, nil

	case "join_scoreboard":
		groupID, err := targetGroup(identity, in.Payload)
		if err != nil {
			return nil, err
		}
		board, err := h.service.Scoreboard(ctx, groupID)
		if err != nil {
			return nil, err
		}
		return &outboundMessage{Type: string(domain.EventScoreboardUpdate), Payload: board}, nil

	case "final_scores":
		groupID, err := targetGroup(identity, in.Payload)
		if err != nil {
			return nil, err
		}
		board, err := h.service.Scoreboard(ctx, groupID)
		if err != nil {
			return nil, err
		}
		return &outboundMessage{Type: msgFinalScores, Payload: board}, nil

	case "get_question":
		question, phase, ok, err := h.service.CurrentQuestion(ctx, identity.GroupID)
		if err != nil {
			return nil, err
		}
		if ok {
			return &outboundMessage{Type: string(domain.EventCurrentQuestion), Payload: question}, nil
		}
		if phase == domain.PhaseEnded {
			return &outboundMessage{Type: string(domain.EventGameOver), Payload: domain.GameOver{}}, nil
		}
		return nil, domain.ErrQuestionNotOpen

	case "start_round":
		var p groupPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return nil, err
		}
		return nil, h.service.StartRound(ctx, identity, orGroup(p.GroupID, identity))

	case "advance_question":
		var p advancePayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return nil, err
		}
		index := app.AnyQuestion
		if p.QuestionIndex != nil {
			index = *p.QuestionIndex
		}
		return nil, h.service.AdvanceQuestion(ctx, identity, orGroup(p.GroupID, identity), index)

	case "submit_answer":
		var p answerPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return nil, err
		}
		if p.QuestionIndex == nil {
			return nil, domain.ErrMalformedMessage
		}
		result, err := h.service.SubmitAnswer(ctx, identity, app.SubmitRequest{
			GroupID:       orGroup(p.GroupID, identity),
			QuestionIndex: *p.QuestionIndex,
			Answer:        p.Answer,
			TimeTaken:     p.TimeTaken,
		})
		if err != nil {
			return nil, err
		}
		return &outboundMessage{Type: msgAnswerResult, Payload: result}, nil

	default:
		return nil, domain.ErrMalformedMessage
	}
}

// targetGroup lets a client read only its own group.
func targetGroup(identity domain.Identity, raw json.RawMessage) (int64, error) {
	var p groupPayload
	if err := decodePayload(raw, &p); err != nil {
		return 0, err
	}
	groupID := orGroup(p.GroupID, identity)
	if groupID != identity.GroupID {
		return 0, domain.ErrWrongGroup
	}
	return groupID, nil
}

func orGroup(groupID int64, identity domain.Identity) int64 {
	if groupID == 0 {
		return identity.GroupID
	}
	return groupID
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.ErrMalformedMessage
	}
	return nil
}

func writeMessage(conn *websocket.Conn, msg outboundMessage) error {
	if msg.closing {
		frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
		return conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
	}
	return conn.WriteJSON(msg)
}

func errorMessage(err error) outboundMessage {
	return outboundMessage{Type: msgError, Payload: errorPayload{Message: messageFor(err)}}
}
