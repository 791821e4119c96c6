package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"pixelbot/internal/domain"
	"pixelbot/internal/queue"
	"pixelbot/internal/telegram"
)

// Webhook receives Telegram updates. It always answers 200 so Telegram does
// not redeliver the update; failures are reported to the user in chat and to
// the log, never to Telegram.
func (a *App) Webhook(w http.ResponseWriter, r *http.Request) {
	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		a.Logger.Warn().Err(err).Msg("webhook: malformed update")
		a.json(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if upd.Message != nil && upd.Message.From != nil {
		a.handleMessage(r.Context(), upd.Message)
	}
	a.json(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *App) handleMessage(ctx context.Context, msg *telegram.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	lang := telegram.MatchLang(msg.From.LanguageCode)

	cmd, args := splitCommand(msg.Text)
	switch cmd {
	case "/start":
		if _, err := a.Users.GetOrCreate(ctx, userID); err != nil {
			a.Logger.Error().Err(err).Int64("user_id", userID).Msg("webhook: create user failed")
		}
		a.reply(ctx, chatID, lang.Welcome(a.Ledger.DailyFreeLimit()))
	case "/help":
		a.reply(ctx, chatID, lang.Help())
	case "/balance":
		credits, freeRemaining, err := a.Ledger.Balance(ctx, userID)
		if err != nil {
			a.Logger.Error().Err(err).Int64("user_id", userID).Msg("webhook: load balance failed")
			a.reply(ctx, chatID, lang.ServerBusy())
			return
		}
		a.reply(ctx, chatID, lang.Balance(credits, freeRemaining, a.Ledger.DailyFreeLimit()))
	case "/examples":
		a.reply(ctx, chatID, lang.Examples())
	case "/terms":
		a.reply(ctx, chatID, lang.Terms())
	case "/generate":
		a.handleGenerate(ctx, userID, chatID, args, msg.From.LanguageCode)
	case "":
		// Ordinary text, stickers and the like are left unanswered.
	default:
		a.reply(ctx, chatID, lang.Unknown())
	}
}

// handleGenerate runs the admission pipeline: single-flight gate, ledger
// debit, durable record, queue slot. Every step that fails unwinds the ones
// before it so a rejected request costs the user nothing.
func (a *App) handleGenerate(ctx context.Context, userID, chatID int64, prompt, langCode string) {
	lang := telegram.MatchLang(langCode)
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		a.reply(ctx, chatID, lang.GenerateUsage())
		return
	}

	if !a.Gate.Acquire(userID) {
		a.reply(ctx, chatID, lang.AlreadyActive())
		return
	}

	kind, err := a.Ledger.TryDebit(ctx, userID)
	if err != nil {
		a.Gate.Release(userID)
		if errors.Is(err, domain.ErrInsufficientBalance) {
			a.reply(ctx, chatID, lang.NoBalance(a.Ledger.DailyFreeLimit()))
			return
		}
		a.Logger.Error().Err(err).Int64("user_id", userID).Msg("webhook: debit failed")
		a.reply(ctx, chatID, lang.ServerBusy())
		return
	}

	genID, err := a.Generations.Create(ctx, &domain.Generation{
		UserID:    userID,
		Prompt:    prompt,
		Status:    domain.StatusQueued,
		DebitKind: kind,
	})
	if err != nil {
		// No generation row exists to carry a refund marker, so credit the
		// unit back on the user row directly.
		a.creditBack(ctx, userID, kind)
		a.Gate.Release(userID)
		a.Logger.Error().Err(err).Int64("user_id", userID).Msg("webhook: create generation failed")
		a.reply(ctx, chatID, lang.ServerBusy())
		return
	}

	item := queue.Item{
		GenerationID: genID,
		UserID:       userID,
		Prompt:       prompt,
		DebitKind:    kind,
		LangCode:     langCode,
	}
	if a.BlockOnFull {
		err = a.Queue.Enqueue(ctx, item)
	} else {
		err = a.Queue.TryEnqueue(item)
	}
	if err != nil {
		if refundErr := a.Ledger.Refund(ctx, userID, genID, kind); refundErr != nil {
			a.Logger.Error().Err(refundErr).Int64("generation_id", genID).Msg("webhook: refund failed")
		}
		if finishErr := a.Generations.Finish(ctx, genID, domain.StatusFailed, "admission queue full"); finishErr != nil {
			a.Logger.Error().Err(finishErr).Int64("generation_id", genID).Msg("webhook: record rejection failed")
		}
		a.Gate.Release(userID)
		a.reply(ctx, chatID, lang.ServerBusy())
		return
	}

	// The gate stays held until the dispatcher settles the job.
	credits, freeRemaining, balErr := a.Ledger.Balance(ctx, userID)
	if balErr != nil {
		a.Logger.Error().Err(balErr).Int64("user_id", userID).Msg("webhook: load balance failed")
	}
	if kind == domain.DebitFree {
		a.reply(ctx, chatID, lang.QueuedFree(freeRemaining))
	} else {
		a.reply(ctx, chatID, lang.QueuedCredit(credits))
	}
}

func (a *App) creditBack(ctx context.Context, userID int64, kind domain.DebitKind) {
	var err error
	if kind == domain.DebitCredit {
		err = a.Users.CreditPaid(ctx, userID)
	} else {
		err = a.Users.CreditFree(ctx, userID)
	}
	if err != nil {
		a.Logger.Error().Err(err).Int64("user_id", userID).Msg("webhook: credit back failed")
	}
}

func (a *App) reply(ctx context.Context, chatID int64, text string) {
	if err := a.Sender.SendMessage(ctx, chatID, text, ""); err != nil {
		a.Logger.Error().Err(err).Int64("chat_id", chatID).Msg("webhook: send reply failed")
	}
}

// splitCommand separates the leading bot command from its argument text and
// strips an @botname suffix from the command.
func splitCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd, args, _ = strings.Cut(text, " ")
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(args)
}
