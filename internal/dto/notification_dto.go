package dto

import "time"

// NotificationCreateRequest describes a notice addressed to one reviewer.
type NotificationCreateRequest struct {
	UserID      string `json:"user_id" validate:"required,max=64"`
	SessionID   string `json:"session_id" validate:"omitempty,max=64"`
	Level       string `json:"level" validate:"required,oneof=success info error"`
	Title       string `json:"title" validate:"required,max=120"`
	Description string `json:"description" validate:"omitempty,max=2000"`
}

// NotificationResponse represents a notice streamed to clients.
type NotificationResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Level       string    `json:"level"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
