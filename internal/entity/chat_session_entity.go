package entity

import (
	"time"
)

type ChatSession struct {
	Id              string
	UserId          string
	Title           string
	LastMessageText string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
