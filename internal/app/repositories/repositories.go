package repositories

import (
	"github.com/yigit/clubchat/internal/app/services"
	"github.com/yigit/clubchat/internal/db"
)

// Repositories holds all the repository instances
type Repositories struct {
	Chats         *ChatRepository
	Messages      *MessageRepository
	ReadCursors   *ReadCursorRepository
	Notifications *NotificationRepository
	Push          *PushRepository
}

// NewRepositories initializes all repositories
func NewRepositories(database *db.PostgresDB) *Repositories {
	return &Repositories{
		Chats:         NewChatRepository(database),
		Messages:      NewMessageRepository(database),
		ReadCursors:   NewReadCursorRepository(database),
		Notifications: NewNotificationRepository(database),
		Push:          NewPushRepository(database),
	}
}

var (
	_ services.ChatStore         = (*ChatRepository)(nil)
	_ services.MessageRepository = (*MessageRepository)(nil)
	_ services.ReadCursorStore   = (*ReadCursorRepository)(nil)
	_ services.NotificationStore = (*NotificationRepository)(nil)
	_ services.PushRegistry      = (*PushRepository)(nil)
)
