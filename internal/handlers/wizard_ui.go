package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"banana-tryon/internal/imagecodec"
	"banana-tryon/internal/library"
	"banana-tryon/internal/wizard"
)

const callbackPrefix = "tw"

// Callback actions.
const (
	actNext     = "next"
	actBack     = "back"
	actReset    = "reset"
	actTryOn    = "tryon"
	actDismiss  = "dismiss"
	actPersons  = "persons"
	actCloths   = "cloths"
	actHistory  = "history"
	actDownload = "dl"

	selectPerson = "sp"
	selectCloth  = "sc"
)

const (
	maxListed  = 8
	maxHistory = 5
)

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil {
		return nil
	}
	data := strings.TrimSpace(q.Data)
	if !strings.HasPrefix(data, callbackPrefix+":") {
		return nil
	}

	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 {
		return nil
	}
	action := parts[1]
	arg := ""
	if len(parts) == 3 {
		arg = parts[2]
	}

	chatID := q.Message.Chat.ID
	msgID := q.Message.MessageID
	wiz := h.wizards.Get(chatID)

	switch action {
	case actNext:
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
		if err := h.next(ctx, chatID, wiz); err != nil {
			return err
		}
		return h.render(chatID, 0)
	case actTryOn:
		_ = h.tg.AnswerCallback(q.ID, "Generating…", false)
		if err := h.runTryOn(ctx, chatID, wiz, wiz.TryOn); err != nil {
			return err
		}
		return h.render(chatID, 0)
	case actBack:
		wiz.Back()
	case actReset:
		wiz.Reset()
	case actDismiss:
		wiz.DismissMessage()
	case actPersons:
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
		return h.sendLibrary(chatID, wiz.Persons(), selectPerson, "👤 Your person library is empty. Send a photo of a person to add one.")
	case actCloths:
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
		return h.sendLibrary(chatID, wiz.Cloths(), selectCloth, "👕 Your clothing library is empty. Send a photo or use /dress <description>.")
	case actHistory:
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
		return h.sendHistory(chatID, wiz)
	case actDownload:
		_ = h.tg.AnswerCallback(q.ID, "Sending file…", false)
		return h.sendDownload(chatID, wiz)
	case selectPerson, selectCloth:
		var err error
		if action == selectPerson {
			err = wiz.SelectPerson(ctx, arg)
		} else {
			err = wiz.SelectCloth(ctx, arg)
		}
		if err != nil {
			_ = h.tg.AnswerCallback(q.ID, failureText(wiz.State(), err), true)
			return nil
		}
		_ = h.tg.AnswerCallback(q.ID, "Selected ✅", false)
		// Library photos are separate messages; show the wizard anew.
		return h.render(chatID, 0)
	default:
		_ = h.tg.AnswerCallback(q.ID, "This button is no longer supported.", false)
		return nil
	}

	_ = h.tg.AnswerCallback(q.ID, "OK", false)
	return h.render(chatID, msgID)
}

// render shows the wizard panel, editing messageID in place when given.
func (h *Handler) render(chatID int64, messageID int) error {
	st := h.wizards.Get(chatID).State()
	text := wizardText(st)
	kb := wizardKeyboard(st)

	if messageID != 0 {
		if err := h.tg.EditTextWithKeyboard(chatID, messageID, text, kb); err == nil {
			return nil
		}
	}

	_, err := h.tg.SendTextWithKeyboard(chatID, text, kb)
	return err
}

func (h *Handler) sendLibrary(chatID int64, assets []library.ImageAsset, action, emptyText string) error {
	if len(assets) == 0 {
		return h.tg.SendText(chatID, emptyText)
	}
	if len(assets) > maxListed {
		assets = assets[:maxListed]
	}

	for i, a := range assets {
		label := fmt.Sprintf("#%d", i+1)
		if a.IsGenerated {
			label += " ✨"
		}
		kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Select "+label, cb(action, a.ID)),
		))

		if imagecodec.IsEmbedded(a.URL) {
			if err := h.tg.SendPhotoDataURL(chatID, a.URL, label, &kb); err != nil {
				h.logger.Warn("send library photo failed", "id", a.ID, "err", err)
			}
			continue
		}
		if _, err := h.tg.SendTextWithKeyboard(chatID, label+" preset: "+a.URL, kb); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) sendHistory(chatID int64, wiz *wizard.Controller) error {
	items := wiz.History()
	if len(items) == 0 {
		return h.tg.SendText(chatID, "🕘 No try-ons yet.")
	}
	if len(items) > maxHistory {
		items = items[:maxHistory]
	}

	for _, it := range items {
		caption := "🕘 " + time.UnixMilli(it.Timestamp).UTC().Format("2006-01-02 15:04 MST")
		if err := h.tg.SendPhotoDataURL(chatID, it.ResultImage, caption, nil); err != nil {
			h.logger.Warn("send history photo failed", "id", it.ID, "err", err)
		}
	}
	return nil
}

func (h *Handler) sendDownload(chatID int64, wiz *wizard.Controller) error {
	st := wiz.State()
	if st.ResultImage == "" {
		return h.tg.SendText(chatID, "⚠️ "+wizard.MsgNothingToDownload)
	}
	return h.tg.SendDocumentDataURL(chatID, st.ResultImage, imagecodec.DownloadName(h.now()), "")
}

type downloadedPhoto struct {
	data []byte
	mime string
}

func (h *Handler) downloadAll(ctx context.Context, fileIDs []string) ([]downloadedPhoto, error) {
	out := make([]downloadedPhoto, len(fileIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, fileID := range fileIDs {
		i, fileID := i, fileID
		eg.Go(func() error {
			data, mimeType, err := h.tg.DownloadFile(egCtx, fileID)
			if err != nil {
				return err
			}
			out[i] = downloadedPhoto{data: data, mime: mimeType}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func wizardText(st wizard.State) string {
	var b strings.Builder
	b.WriteString("👗 AI Try-On\n\n")

	switch st.Step {
	case wizard.StepSelectPerson:
		b.WriteString("Step 1/3: choose a person\n")
	case wizard.StepSelectCloth:
		b.WriteString("Step 2/3: choose clothing\n")
	case wizard.StepResult:
		b.WriteString("Step 3/3: result\n")
	}
	b.WriteString(fmt.Sprintf("Person: %s\n", selectionLabel(st.SelectedPersonID, st.SelectedPerson)))
	b.WriteString(fmt.Sprintf("Clothing: %s\n", selectionLabel(st.SelectedClothID, st.SelectedCloth)))

	if st.TryOnBusy {
		b.WriteString("\n⏳ Try-on in progress…\n")
	}
	if st.ClothBusy {
		b.WriteString("\n⏳ Clothing generation in progress…\n")
	}
	if st.Message != "" {
		b.WriteString("\n⚠️ " + st.Message + "\n")
	}

	switch st.Step {
	case wizard.StepSelectPerson:
		b.WriteString("\n📷 Send a person photo or pick one from the library, then press Next.")
	case wizard.StepSelectCloth:
		b.WriteString("\n👕 Send a clothing photo, pick one from the library, or type a description to generate one.")
	case wizard.StepResult:
		b.WriteString("\n✅ Your result is above. Download it or try again.")
	}
	return strings.TrimSpace(b.String())
}

func wizardKeyboard(st wizard.State) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	switch st.Step {
	case wizard.StepSelectPerson:
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👤 Library", cb(actPersons)),
			tgbotapi.NewInlineKeyboardButtonData("Next ➡", cb(actNext)),
		))
	case wizard.StepSelectCloth:
		rows = append(rows,
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("⬅ Back", cb(actBack)),
				tgbotapi.NewInlineKeyboardButtonData("👕 Library", cb(actCloths)),
			),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✨ Try on", cb(actTryOn)),
			),
		)
	case wizard.StepResult:
		rows = append(rows, resultKeyboard().InlineKeyboard...)
	}

	bottom := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🕘 History", cb(actHistory)),
	}
	if st.Message != "" {
		bottom = append(bottom, tgbotapi.NewInlineKeyboardButtonData("✕ Dismiss", cb(actDismiss)))
	}
	rows = append(rows, bottom)

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func resultKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬇ Download", cb(actDownload)),
		tgbotapi.NewInlineKeyboardButtonData("🔁 Try again", cb(actReset)),
	))
}

func selectionLabel(id, url string) string {
	switch {
	case url == "":
		return "—"
	case id != "":
		return "✅ " + id
	default:
		return "✅"
	}
}

func cb(parts ...string) string {
	return callbackPrefix + ":" + strings.Join(parts, ":")
}

func truncateLine(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
