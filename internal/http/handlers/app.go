// Package handlers holds the HTTP entry points: the Telegram webhook that
// admits generation jobs and the small operational surface (health, stats).
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"pixelbot/internal/domain"
	"pixelbot/internal/ledger"
	"pixelbot/internal/queue"
)

// Sender is the outbound half of the chat transport the webhook needs.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) error
}

// App carries the wired dependencies for all handlers.
type App struct {
	Logger      zerolog.Logger
	Ledger      *ledger.Ledger
	Users       domain.UserRepository
	Generations domain.GenerationRepository
	Queue       *queue.Queue
	Gate        *queue.Gate
	Sender      Sender
	// BlockOnFull switches admission from fail-fast to blocking when the
	// queue is at capacity.
	BlockOnFull bool
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, msg string) {
	a.json(w, code, map[string]string{"error": slug, "message": msg})
}
