package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"banana-tryon/internal/mediagroup"
	"banana-tryon/internal/telegram"
	"banana-tryon/internal/wizard"
)

// Bot is the subset of the Telegram client the handler drives.
type Bot interface {
	SendText(chatID int64, text string) error
	SendTextWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) (int, error)
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(callbackID, text string, alert bool) error
	SendPhotoDataURL(chatID int64, dataURL, caption string, kb *tgbotapi.InlineKeyboardMarkup) error
	SendDocumentDataURL(chatID int64, dataURL, name, caption string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
	SendTyping(chatID int64)
	SendUploadingPhoto(chatID int64)
}

type Options struct {
	Telegram Bot
	// Wizards holds one controller per chat.
	Wizards *wizard.Registry
	Now     func() time.Time
	Logger  *slog.Logger
}

type Handler struct {
	tg         Bot
	wizards    *wizard.Registry
	now        func() time.Time
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Handler{
		tg:      opts.Telegram,
		wizards: opts.Wizards,
		now:     now,
		logger:  logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, msg)
	}

	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, msg)
	}

	if msg.Text != "" {
		return h.handleText(ctx, chatID, msg.Text)
	}

	return nil
}

// HandleMediaGroup treats a two-photo album as person plus clothing and runs
// the try-on straight away.
func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	if err := h.processAlbum(ctx, group.ChatID, group.FileIDs); err != nil {
		h.logger.Error("media group processing failed", "chat_id", group.ChatID, "err", err)
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	wiz := h.wizards.Get(chatID)

	switch msg.Command() {
	case "start":
		if err := h.tg.SendText(chatID, welcomeText); err != nil {
			return err
		}
		return h.render(chatID, 0)
	case "help":
		return h.tg.SendText(chatID, helpText)
	case "next":
		if err := h.next(ctx, chatID, wiz); err != nil {
			return err
		}
		return h.render(chatID, 0)
	case "back":
		wiz.Back()
		return h.render(chatID, 0)
	case "reset":
		wiz.Reset()
		return h.render(chatID, 0)
	case "tryon":
		if err := h.runTryOn(ctx, chatID, wiz, wiz.TryOn); err != nil {
			return err
		}
		return h.render(chatID, 0)
	case "dress":
		prompt := strings.TrimSpace(msg.CommandArguments())
		if prompt == "" {
			return h.tg.SendText(chatID, "❌ Please describe the clothing.\nExample: /dress red silk evening dress")
		}
		if err := h.generateCloth(ctx, chatID, wiz, prompt); err != nil {
			return err
		}
		return h.render(chatID, 0)
	case "persons":
		return h.sendLibrary(chatID, wiz.Persons(), selectPerson, "👤 Your person library is empty. Send a photo of a person to add one.")
	case "cloths":
		return h.sendLibrary(chatID, wiz.Cloths(), selectCloth, "👕 Your clothing library is empty. Send a photo or use /dress <description>.")
	case "history":
		return h.sendHistory(chatID, wiz)
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Use /help.")
	}
}

// handleText treats plain text at the clothing step as a clothing description.
func (h *Handler) handleText(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	wiz := h.wizards.Get(chatID)
	if wiz.State().Step != wizard.StepSelectCloth {
		return h.tg.SendText(chatID, "📷 Send a photo, or use /help to see what I can do.")
	}

	if err := h.generateCloth(ctx, chatID, wiz, text); err != nil {
		return err
	}
	return h.render(chatID, 0)
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	photo := msg.Photo[len(msg.Photo)-1]

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			UserID:       msg.From.ID,
			MessageID:    msg.MessageID,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			FileID:       photo.FileID,
		})
		return nil
	}

	data, mimeType, err := h.tg.DownloadFile(ctx, photo.FileID)
	if err != nil {
		h.logger.Error("photo download failed", "chat_id", chatID, "err", err)
		return h.tg.SendText(chatID, "❌ Failed to download the photo, please send it again.")
	}

	wiz := h.wizards.Get(chatID)
	step := wiz.State().Step
	if step == wizard.StepResult {
		wiz.Reset()
		step = wizard.StepSelectPerson
	}

	if step == wizard.StepSelectCloth {
		_, err = wiz.UploadCloth(ctx, bytes.NewReader(data), mimeType)
	} else {
		_, err = wiz.UploadPerson(ctx, bytes.NewReader(data), mimeType)
	}
	if err != nil {
		return h.sendFailure(chatID, wiz, err)
	}

	if step == wizard.StepSelectCloth {
		_ = h.tg.SendText(chatID, "✅ Clothing saved and selected.")
	} else {
		_ = h.tg.SendText(chatID, "✅ Person photo saved and selected.")
	}
	return h.render(chatID, 0)
}

func (h *Handler) next(ctx context.Context, chatID int64, wiz *wizard.Controller) error {
	if wiz.State().Step == wizard.StepSelectCloth {
		return h.runTryOn(ctx, chatID, wiz, wiz.Next)
	}
	if err := wiz.Next(ctx); err != nil {
		return h.sendFailure(chatID, wiz, err)
	}
	return nil
}

// runTryOn wraps a call that may run the try-on with progress and result
// messages.
func (h *Handler) runTryOn(ctx context.Context, chatID int64, wiz *wizard.Controller, run func(context.Context) error) error {
	if st := wiz.State(); st.Step == wizard.StepSelectCloth && st.SelectedPerson != "" && st.SelectedCloth != "" {
		h.tg.SendTyping(chatID)
		_ = h.tg.SendText(chatID, "✨ Generating your try-on, this can take a minute...")
	}

	if err := run(ctx); err != nil {
		return h.sendFailure(chatID, wiz, err)
	}

	st := wiz.State()
	if st.Step != wizard.StepResult || st.ResultImage == "" {
		return nil
	}
	h.tg.SendUploadingPhoto(chatID)
	kb := resultKeyboard()
	if err := h.tg.SendPhotoDataURL(chatID, st.ResultImage, "✅ Here is your try-on!", &kb); err != nil {
		h.logger.Error("send result failed", "chat_id", chatID, "err", err)
		return h.tg.SendText(chatID, "❌ The result was generated but could not be sent.")
	}
	return nil
}

func (h *Handler) generateCloth(ctx context.Context, chatID int64, wiz *wizard.Controller, prompt string) error {
	h.tg.SendTyping(chatID)
	_ = h.tg.SendText(chatID, "🎨 Generating clothing, please wait...")

	asset, err := wiz.GenerateCloth(ctx, prompt)
	if err != nil {
		return h.sendFailure(chatID, wiz, err)
	}
	if asset.ID == "" {
		return nil
	}
	return h.tg.SendPhotoDataURL(chatID, asset.URL, fmt.Sprintf("✅ Generated and selected: %q", truncateLine(prompt, 200)), nil)
}

func (h *Handler) processAlbum(ctx context.Context, chatID int64, fileIDs []string) error {
	if len(fileIDs) != 2 {
		return h.tg.SendText(chatID, "📷 Send an album of exactly two photos: the person first, then the clothing.")
	}

	photos, err := h.downloadAll(ctx, fileIDs)
	if err != nil {
		h.logger.Error("album download failed", "chat_id", chatID, "err", err)
		return h.tg.SendText(chatID, "❌ Failed to download the photos, please send them again.")
	}

	wiz := h.wizards.Get(chatID)
	wiz.Reset()
	if _, err := wiz.UploadPerson(ctx, bytes.NewReader(photos[0].data), photos[0].mime); err != nil {
		return h.sendFailure(chatID, wiz, err)
	}
	if err := wiz.Next(ctx); err != nil {
		return h.sendFailure(chatID, wiz, err)
	}
	if _, err := wiz.UploadCloth(ctx, bytes.NewReader(photos[1].data), photos[1].mime); err != nil {
		return h.sendFailure(chatID, wiz, err)
	}

	if err := h.runTryOn(ctx, chatID, wiz, wiz.TryOn); err != nil {
		return err
	}
	return h.render(chatID, 0)
}

// sendFailure reports err to the chat using the wizard's message slot when set.
func (h *Handler) sendFailure(chatID int64, wiz *wizard.Controller, err error) error {
	text := failureText(wiz.State(), err)
	if !wizard.IsValidation(err) {
		h.logger.Warn("wizard action failed", "chat_id", chatID, "err", err)
	}
	return h.tg.SendText(chatID, "⚠️ "+text)
}

func failureText(st wizard.State, err error) string {
	switch {
	case errors.Is(err, wizard.ErrBusy):
		return "A generation is already running, please wait for it to finish."
	case errors.Is(err, wizard.ErrInvalidTransition) && st.Step == wizard.StepResult:
		return "The result is ready. Use Try again to start over."
	case errors.Is(err, wizard.ErrInvalidTransition):
		return "Choose the clothing first: press Next once a person is selected."
	case st.Message != "":
		return st.Message
	default:
		return "Something went wrong, please try again."
	}
}

const welcomeText = "👗 AI Try-On\n\n" +
	"Hi! Send me a photo of a person, then a photo of a piece of clothing, and I will dress them.\n" +
	"Tip: send both photos as one album (person first) to get a result right away."

const helpText = "👗 Help\n\n" +
	"1. Send a person photo, or pick one with /persons.\n" +
	"2. Send a clothing photo, pick one with /cloths, or describe one with /dress <description>.\n" +
	"3. Press Try on.\n\n" +
	"/next - next step\n" +
	"/back - previous step\n" +
	"/tryon - run the try-on\n" +
	"/reset - start over (selections are kept)\n" +
	"/history - recent results"
