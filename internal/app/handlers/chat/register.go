package chat

import (
	"log/slog"
	"time"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/outbox"
	"marketplace/internal/app/policies"
	"marketplace/internal/app/queries"
	"marketplace/internal/domain/anchors"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
)

// Deps carries the collaborators shared by every chat handler.
type Deps struct {
	Conversations conversations.Repository
	Messages      messages.Repository
	Anchors       anchors.Repository
	Users         domainuser.Repository
	Notifier      policies.ChatNotifier
	Outbox        outbox.Outbox
	Encoder       outbox.EventEncoder
	MaxLength     int
	Clock         func() time.Time
	Counter       SentCounter
	Logger        *slog.Logger
}

// Register attaches the chat commands and queries to the in-memory buses.
func Register(cmds *commands.InMemoryBus, qs *queries.InMemoryBus, deps Deps) {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = policies.NopNotifier{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "chat")

	commands.RegisterHandler(cmds, startConversationKey, &StartConversationHandler{
		Conversations: deps.Conversations,
		Messages:      deps.Messages,
		Anchors:       deps.Anchors,
		Users:         deps.Users,
		Outbox:        deps.Outbox,
		Encoder:       deps.Encoder,
		Clock:         deps.Clock,
		Logger:        logger,
	})
	commands.RegisterHandler(cmds, sendMessageKey, &SendMessageHandler{
		Conversations: deps.Conversations,
		Messages:      deps.Messages,
		Notifier:      notifier,
		Outbox:        deps.Outbox,
		Encoder:       deps.Encoder,
		Locks:         NewKeyedMutex(),
		MaxLength:     deps.MaxLength,
		Clock:         deps.Clock,
		Counter:       deps.Counter,
		Logger:        logger,
	})
	commands.RegisterHandler(cmds, markReadKey, &MarkReadHandler{
		Conversations: deps.Conversations,
		Messages:      deps.Messages,
		Notifier:      notifier,
		Outbox:        deps.Outbox,
		Encoder:       deps.Encoder,
		Clock:         deps.Clock,
		Logger:        logger,
	})

	queries.RegisterHandler(qs, listConversationsKey, &ListConversationsHandler{
		Conversations: deps.Conversations,
		Messages:      deps.Messages,
	})
	queries.RegisterHandler(qs, getConversationKey, &GetConversationHandler{
		Conversations: deps.Conversations,
		Messages:      deps.Messages,
	})
	queries.RegisterHandler(qs, listMessagesKey, &ListMessagesHandler{
		Conversations: deps.Conversations,
		Messages:      deps.Messages,
		Notifier:      notifier,
		Clock:         deps.Clock,
		Logger:        logger,
	})
	queries.RegisterHandler(qs, countUnreadKey, &CountUnreadHandler{
		Conversations: deps.Conversations,
		Messages:      deps.Messages,
	})
	queries.RegisterHandler(qs, getPresenceKey, &GetPresenceHandler{Users: deps.Users})
}
