package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/groupwatch/internal/config"
	"github.com/weiawesome/groupwatch/internal/domain"
	"github.com/weiawesome/groupwatch/internal/hub"
	"github.com/weiawesome/groupwatch/internal/service"
	pkglog "github.com/weiawesome/groupwatch/pkg/log"
)

// WSHandler upgrades connections and routes their frames to the service.
type WSHandler struct {
	hub      *hub.Hub
	service  service.WatchService
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WebSocket handler. An empty AllowedOrigins
// accepts every origin.
func NewWSHandler(h *hub.Hub, svc service.WatchService, cfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// HandleWebSocket handles the upgrade and starts the client pumps.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	l := pkglog.Ctx(c.Request.Context())

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.New().String()
	c.Set(pkglog.FieldConnID, clientID)
	client := hub.NewClient(clientID, h.hub, conn)

	client.SetDisconnectHandler(func(cl *hub.Client) {
		ctx := pkglog.WithConn(context.Background(), cl.ID())
		if err := h.service.HandleDisconnect(ctx, cl); err != nil {
			l := pkglog.Ctx(ctx)
			l.Error().Err(err).Msg("disconnect handler error")
		}
	})

	h.hub.Register(client)
	if err := h.service.HandleConnect(pkglog.WithConn(context.Background(), clientID), client); err != nil {
		l.Error().Err(err).Str(pkglog.FieldConnID, clientID).Msg("connect failed")
	}

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx := pkglog.WithConn(context.Background(), client.ID())
	l := pkglog.Ctx(ctx).With().Str(pkglog.FieldMsgType, base.Type).Logger()

	var err error
	switch base.Type {
	case domain.MsgTypeJoinRoom:
		var msg domain.JoinRoomMessage
		if !decode(client, base.Type, message, &msg) {
			return
		}
		err = h.service.HandleJoinRoom(ctx, client, msg)

	case domain.MsgTypeLeaveRoom:
		err = h.service.HandleLeaveRoom(ctx, client)

	case domain.MsgTypePlay, domain.MsgTypePause, domain.MsgTypeSeek:
		var msg domain.PlaybackMessage
		if !decode(client, base.Type, message, &msg) {
			return
		}
		err = h.service.HandlePlayback(ctx, client, msg)

	case domain.MsgTypeRequestSync:
		err = h.service.HandleRequestSync(ctx, client)

	case domain.MsgTypeChatMessage:
		var msg domain.ChatInMessage
		if !decode(client, base.Type, message, &msg) {
			return
		}
		err = h.service.HandleChatMessage(ctx, client, msg)

	case domain.MsgTypeSignal:
		var msg domain.SignalInMessage
		if !decode(client, base.Type, message, &msg) {
			return
		}
		err = h.service.HandleSignal(ctx, client, msg)

	case domain.MsgTypeTransferHost:
		var msg domain.TransferHostMessage
		if !decode(client, base.Type, message, &msg) {
			return
		}
		err = h.service.HandleTransferHost(ctx, client, msg)

	case domain.MsgTypePing:
		client.SendMessage(map[string]string{"type": domain.MsgTypePong})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type").ForRequest(base.Type))
	}

	if err != nil {
		l.Error().Err(err).Msg("request failed")
	}
}

func decode(client *hub.Client, msgType string, message []byte, v interface{}) bool {
	if err := json.Unmarshal(message, v); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message payload").ForRequest(msgType))
		return false
	}
	return true
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/ws", h.HandleWebSocket)
}
