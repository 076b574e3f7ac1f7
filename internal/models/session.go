// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import "time"

// UserSession binds a connected user to the IDE/project they are currently
// working against, so the WebSocket Bridge (C10) can target
// broadcastToUser without every component re-deriving that mapping.
type UserSession struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"index"`
	ProjectID     string `gorm:"index"`
	ActiveIDEPort int
	CreatedAt     time.Time
	LastSeenAt    time.Time
}

// ChatRole distinguishes who authored a ChatMessage.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of a per-user, per-project chat history, mirrored
// to clients as the `chat-message` wire event.
type ChatMessage struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	ProjectID string `gorm:"index"`
	Role      ChatRole
	Content   string
	CreatedAt time.Time
}
