package models

// Models defined in this package:
// - Chat, ChatMetadata: conversations and per-user read cursors
// - Message, OutgoingMessage: persisted messages and send payloads
// - Poll: vote sets embedded in poll messages
// - AppNotification, PushSettings: in-app notifications and push registry
