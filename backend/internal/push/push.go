// Package push delivers best-effort messages to users' live clients.
package push

import (
	"context"

	"go.uber.org/zap"
)

// Message is the payload delivered to a user's subscriptions.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Tag   string            `json:"tag"`
	Data  map[string]string `json:"data,omitempty"`
}

// Result counts per-subscription outcomes of one Send.
type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Pusher is the push transport collaborator. Implementations deactivate
// subscriptions that fail on their own.
type Pusher interface {
	Send(ctx context.Context, userID string, msg Message) (Result, error)
}

// LogPusher only logs messages. Used in development and with PUSH_TRANSPORT=log.
type LogPusher struct {
	Log *zap.Logger
}

func (p *LogPusher) Send(_ context.Context, userID string, msg Message) (Result, error) {
	p.Log.Info("push",
		zap.String("user_id", userID),
		zap.String("title", msg.Title),
		zap.String("tag", msg.Tag))
	return Result{Sent: 1}, nil
}
