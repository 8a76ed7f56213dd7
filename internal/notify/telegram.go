package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/fieldgrid/servicedesk/internal/domain"
)

// TelegramSender delivers assignment pings to per-role Telegram chats. It is
// outbound only; the bot is never started as a poller.
type TelegramSender struct {
	bot       *tele.Bot
	roleChats map[domain.Role]int64
	adminChat int64
}

// NewTelegramSender builds a sender from a bot token and a role name to chat
// id mapping. Roles missing from the map fall back to the admin chat when one
// is configured.
func NewTelegramSender(token string, roleChats map[string]int64, adminChatID int64) (*TelegramSender, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}

	chats := make(map[domain.Role]int64, len(roleChats))
	for name, chatID := range roleChats {
		role, err := domain.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("telegram role_chats: %w", err)
		}
		chats[role] = chatID
	}

	return &TelegramSender{
		bot:       bot,
		roleChats: chats,
		adminChat: adminChatID,
	}, nil
}

// SendAssignmentNotification posts a single plain-text message to the chat of
// the role that just became responsible. Returns false on any delivery
// problem; the caller decides whether to queue a retry.
func (s *TelegramSender) SendAssignmentNotification(ctx context.Context, role domain.Role, requestID string, workflowType domain.WorkflowType) bool {
	chatID, ok := s.roleChats[role]
	if !ok {
		if s.adminChat == 0 {
			slog.Warn("no telegram chat configured for role, dropping notification",
				"role", role, "requestId", requestID)
			return true
		}
		chatID = s.adminChat
	}

	text := fmt.Sprintf("Request %s (%s) is now assigned to %s and awaits action.",
		requestID, workflowType, role)

	_, err := s.bot.Send(tele.ChatID(chatID), text)
	if err != nil {
		slog.Error("failed to send telegram notification",
			"role", role, "requestId", requestID, "error", err)
		return false
	}
	return true
}

// LogSender is the fallback when no Telegram token is configured. Every
// notification is recorded in the service log and counted as delivered.
type LogSender struct{}

func (LogSender) SendAssignmentNotification(_ context.Context, role domain.Role, requestID string, workflowType domain.WorkflowType) bool {
	slog.Info("assignment notification",
		"role", role, "requestId", requestID, "workflowType", workflowType)
	return true
}
