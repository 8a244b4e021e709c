package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/weiawesome/groupwatch/internal/audit"
	"github.com/weiawesome/groupwatch/internal/config"
	"github.com/weiawesome/groupwatch/internal/domain"
	"github.com/weiawesome/groupwatch/internal/metric"
	"github.com/weiawesome/groupwatch/internal/room"
	pkglog "github.com/weiawesome/groupwatch/pkg/log"
	"github.com/weiawesome/groupwatch/pkg/pubsub"
)

type watchService struct {
	registry   *room.Registry
	directory  *room.Directory
	subscriber pubsub.Subscriber
	limits     config.RoomConfig
	validate   *validator.Validate

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatchService creates a WatchService. subscriber may be nil, in which
// case operator commands are not consumed.
func NewWatchService(
	registry *room.Registry,
	directory *room.Directory,
	subscriber pubsub.Subscriber,
	limits config.RoomConfig,
) WatchService {
	return &watchService{
		registry:   registry,
		directory:  directory,
		subscriber: subscriber,
		limits:     limits,
		validate:   validator.New(),
	}
}

func (s *watchService) HandleConnect(ctx context.Context, c Conn) error {
	s.registry.Register(c)
	return c.SendMessage(&domain.WelcomeMessage{
		Type:         domain.MsgTypeWelcome,
		ConnectionID: c.ID(),
	})
}

func (s *watchService) HandleJoinRoom(ctx context.Context, c Conn, msg domain.JoinRoomMessage) error {
	msg.RoomID = strings.TrimSpace(msg.RoomID)
	msg.Username = strings.TrimSpace(msg.Username)

	if err := s.validate.Struct(msg); err != nil {
		return s.reject(c, domain.MsgTypeJoinRoom, domain.ErrCodeBadRequest, "roomId is required")
	}
	if err := s.checkLength(msg.RoomID, s.limits.MaxRoomIDLength); err != nil {
		return s.reject(c, domain.MsgTypeJoinRoom, domain.ErrCodeBadRequest, "roomId is too long")
	}
	if err := s.checkLength(msg.Username, s.limits.MaxUsernameLength); err != nil {
		return s.reject(c, domain.MsgTypeJoinRoom, domain.ErrCodeBadRequest, "username is too long")
	}

	if current, ok := s.registry.RoomOf(c.ID()); ok && current != msg.RoomID {
		s.leaveRoom(ctx, c.ID(), current)
	}

	s.registry.SetUsername(c.ID(), msg.Username)
	r, res := s.directory.Join(msg.RoomID, c, msg.Username, msg.IsHost)

	if !res.Rejoined {
		audit.Log(ctx, audit.ActionJoinRoom, c.ID(), r.ID(), "joined room")
	}
	if res.HostTaken {
		audit.LogWithTarget(ctx, audit.ActionHostDeclined, c.ID(), r.ID(), res.HostID, "host claim declined")
		return s.reject(c, domain.MsgTypeJoinRoom, domain.ErrCodeHostTaken, "Room already has a host")
	}
	return nil
}

func (s *watchService) HandleLeaveRoom(ctx context.Context, c Conn) error {
	roomID, ok := s.registry.RoomOf(c.ID())
	if !ok {
		return nil
	}
	s.leaveRoom(ctx, c.ID(), roomID)
	return nil
}

func (s *watchService) HandlePlayback(ctx context.Context, c Conn, msg domain.PlaybackMessage) error {
	if err := s.validate.Struct(msg); err != nil {
		return s.reject(c, msg.Type, domain.ErrCodeBadRequest, "currentTime must be a non-negative number")
	}

	r, err := s.currentRoom(c)
	if err != nil {
		return s.rejectErr(c, msg.Type, err)
	}

	if err := r.ApplyPlayback(c.ID(), domain.PlaybackAction(msg.Type), msg.CurrentTime); err != nil {
		return s.rejectErr(c, msg.Type, err)
	}
	return nil
}

func (s *watchService) HandleRequestSync(ctx context.Context, c Conn) error {
	r, err := s.currentRoom(c)
	if err != nil {
		return s.rejectErr(c, domain.MsgTypeRequestSync, err)
	}

	snap, err := r.Snapshot(c.ID())
	if err != nil {
		return s.rejectErr(c, domain.MsgTypeRequestSync, err)
	}
	return c.SendMessage(&snap)
}

func (s *watchService) HandleChatMessage(ctx context.Context, c Conn, msg domain.ChatInMessage) error {
	msg.Author = strings.TrimSpace(msg.Author)
	msg.Message = strings.TrimSpace(msg.Message)

	if err := s.validate.Struct(msg); err != nil {
		return s.reject(c, domain.MsgTypeChatMessage, domain.ErrCodeBadRequest, "message is required")
	}
	if err := s.checkLength(msg.Message, s.limits.MaxMessageLength); err != nil {
		return s.reject(c, domain.MsgTypeChatMessage, domain.ErrCodeBadRequest, "message is too long")
	}
	if err := s.checkLength(msg.Author, s.limits.MaxUsernameLength); err != nil {
		return s.reject(c, domain.MsgTypeChatMessage, domain.ErrCodeBadRequest, "author is too long")
	}

	r, err := s.currentRoom(c)
	if err != nil {
		return s.rejectErr(c, domain.MsgTypeChatMessage, err)
	}

	if _, err := r.Chat(c.ID(), msg.Author, msg.Message); err != nil {
		return s.rejectErr(c, domain.MsgTypeChatMessage, err)
	}
	return nil
}

func (s *watchService) HandleSignal(ctx context.Context, c Conn, msg domain.SignalInMessage) error {
	if err := s.validate.Struct(msg); err != nil {
		return s.reject(c, domain.MsgTypeSignal, domain.ErrCodeBadRequest, "to is required")
	}

	fromRoom, ok := s.registry.RoomOf(c.ID())
	if !ok {
		return s.reject(c, domain.MsgTypeSignal, domain.ErrCodeNotInRoom, "Not in a room")
	}

	target, peer, ok := s.registry.Lookup(msg.To)
	if !ok {
		return s.reject(c, domain.MsgTypeSignal, domain.ErrCodeNotFound, "Target not found")
	}
	if target.RoomID != fromRoom {
		return s.reject(c, domain.MsgTypeSignal, domain.ErrCodeForbidden, "Target is not in your room")
	}

	data, err := json.Marshal(&domain.SignalOutMessage{
		Type:   domain.MsgTypeSignal,
		From:   c.ID(),
		Signal: msg.Signal,
	})
	if err != nil {
		return s.reject(c, domain.MsgTypeSignal, domain.ErrCodeBadRequest, "Invalid signal payload")
	}

	if peer.Deliver(data) {
		metric.FrameRelayed()
	} else {
		metric.FrameDropped()
	}
	return nil
}

func (s *watchService) HandleTransferHost(ctx context.Context, c Conn, msg domain.TransferHostMessage) error {
	if err := s.validate.Struct(msg); err != nil {
		return s.reject(c, domain.MsgTypeTransferHost, domain.ErrCodeBadRequest, "to is required")
	}

	r, err := s.currentRoom(c)
	if err != nil {
		return s.rejectErr(c, domain.MsgTypeTransferHost, err)
	}

	if err := r.TransferHost(c.ID(), msg.To); err != nil {
		return s.rejectErr(c, domain.MsgTypeTransferHost, err)
	}

	audit.LogWithTarget(ctx, audit.ActionHostTransfer, c.ID(), r.ID(), msg.To, "host transferred")
	return nil
}

func (s *watchService) HandleDisconnect(ctx context.Context, c Conn) error {
	roomID, inRoom := s.registry.Unregister(c.ID())
	if inRoom {
		s.leaveRoom(ctx, c.ID(), roomID)
	}

	audit.Log(ctx, audit.ActionDisconnect, c.ID(), roomID, "client disconnected")
	return nil
}

func (s *watchService) Start(ctx context.Context) error {
	if s.subscriber == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	events, err := s.subscriber.SubscribePattern(ctx, pubsub.PatternRoomCommands)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to room commands: %w", err)
	}
	s.cancel = cancel

	s.wg.Add(1)
	go s.handleCommands(ctx, events)

	l := pkglog.Ctx(ctx)

	l.Info().Str("pattern", pubsub.PatternRoomCommands).Msg("subscribed to room commands")
	return nil
}

func (s *watchService) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *watchService) handleCommands(ctx context.Context, events <-chan *pubsub.Event) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.processCommand(ctx, ev)
		}
	}
}

func (s *watchService) processCommand(ctx context.Context, ev *pubsub.Event) {
	l := pkglog.Ctx(ctx).With().Str(pkglog.FieldRoomID, ev.RoomID).Str("event_type", ev.Type).Logger()

	switch ev.Type {
	case pubsub.EventSystemMessage:
		var payload pubsub.SystemMessagePayload
		if err := ev.UnmarshalPayload(&payload); err != nil || payload.Content == "" {
			l.Warn().Err(err).Msg("invalid system message")
			return
		}

		r, ok := s.directory.Get(ev.RoomID)
		if !ok {
			// The room lives on another instance, or no longer exists.
			l.Debug().Msg("system message for unknown room")
			return
		}

		n := r.Announce(payload.Content)
		audit.Log(ctx, audit.ActionAnnouncement, "", ev.RoomID, "system message delivered")
		l.Debug().Int("recipients", n).Msg("system message delivered")

	default:
		l.Warn().Msg("ignoring unknown room command")
	}
}

func (s *watchService) leaveRoom(ctx context.Context, connID, roomID string) {
	res, ok := s.directory.Leave(roomID, connID)
	if !ok {
		return
	}

	audit.Log(ctx, audit.ActionLeaveRoom, connID, roomID, "left room")
	if res.NewHostID != "" {
		audit.LogWithTarget(ctx, audit.ActionHostElected, connID, roomID, res.NewHostID, "host elected")
	}
	if res.Closed {
		l := pkglog.Ctx(ctx)
		l.Debug().Str(pkglog.FieldRoomID, roomID).Msg("room closed")
	}
}

func (s *watchService) currentRoom(c Conn) (*room.Room, error) {
	roomID, ok := s.registry.RoomOf(c.ID())
	if !ok {
		return nil, room.ErrNotMember
	}
	r, ok := s.directory.Get(roomID)
	if !ok {
		return nil, room.ErrNotMember
	}
	return r, nil
}

func (s *watchService) checkLength(value string, limit int) error {
	if limit <= 0 || value == "" {
		return nil
	}
	return s.validate.Var(value, fmt.Sprintf("max=%d", limit))
}

func (s *watchService) reject(c Conn, requestType, code, message string) error {
	metric.RequestRejected(code)
	l := pkglog.L()
	l.Debug().Str(pkglog.FieldConnID, c.ID()).Str(pkglog.FieldCode, code).Msg(message)
	return c.SendMessage(domain.NewErrorMessage(code, message).ForRequest(requestType))
}

func (s *watchService) rejectErr(c Conn, requestType string, err error) error {
	switch {
	case errors.Is(err, room.ErrNotMember):
		return s.reject(c, requestType, domain.ErrCodeNotInRoom, "Not in a room")
	case errors.Is(err, room.ErrNotHost):
		return s.reject(c, requestType, domain.ErrCodeForbidden, "Only the host can do this")
	case errors.Is(err, room.ErrUnknownTarget):
		return s.reject(c, requestType, domain.ErrCodeNotFound, "Target is not in this room")
	case errors.Is(err, room.ErrInvalidPlayback):
		return s.reject(c, requestType, domain.ErrCodeBadRequest, "Invalid playback update")
	case errors.Is(err, room.ErrEmptyMessage):
		return s.reject(c, requestType, domain.ErrCodeBadRequest, "message is required")
	default:
		s.reject(c, requestType, domain.ErrCodeInternalError, "Internal error")
		return err
	}
}
