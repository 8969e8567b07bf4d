package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"glm-ocr/api/internal/ocr"
	"glm-ocr/api/internal/store"
	"glm-ocr/api/internal/util"
)

const maxMessageLen = 3900

// Sender is the part of *tgbotapi.BotAPI the router uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Recognizer submits one OCR request to the endpoint.
type Recognizer interface {
	Recognize(ctx context.Context, in ocr.Request, wait time.Duration) (ocr.Response, error)
}

// ResultCache is implemented by *store.ResultRepo.
type ResultCache interface {
	Find(ctx context.Context, imageHash, prompt, model string, maxAge time.Duration) (*store.ResultRow, error)
	Upsert(ctx context.Context, row store.ResultRow) error
}

type Router struct {
	Bot     Sender
	OCR     Recognizer
	Cache   ResultCache // nil: кэш выключен
	Prompts *PromptManager
	Log     *zap.SugaredLogger

	Model       string
	Wait        time.Duration
	CacheMaxAge time.Duration

	// Download fetches a Telegram file; defaults to an HTTP GET.
	Download func(ctx context.Context, url string) ([]byte, error)
}

func (r *Router) HandleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(cid, "Пришли фото или картинку документом, верну распознанный текст.\n"+
			"Подпись к фото заменяет инструкцию для этого фото.\n"+
			"Команды: /health, /prompt [text|formula|table|<своя инструкция>|reset]")
	case "health":
		r.send(cid, "✅ OK")
	case "prompt":
		arg := strings.TrimSpace(msg.CommandArguments())
		switch {
		case arg == "":
			r.send(cid, "Текущая инструкция: "+r.Prompts.Get(cid)+
				"\nПресеты: "+strings.Join(util.PromptNames(), ", "))
		case strings.EqualFold(arg, "reset"):
			r.Prompts.Reset(cid)
			r.send(cid, "✅ Инструкция сброшена: "+r.Prompts.Get(cid))
		default:
			p := Resolve(arg)
			r.Prompts.Set(cid, p)
			r.send(cid, "✅ Инструкция: "+p)
		}
	default:
		r.send(cid, "Неизвестная команда")
	}
}

func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil {
		return
	}
	if msg.IsCommand() {
		r.HandleCommand(msg)
		return
	}

	fileID := ""
	switch {
	case len(msg.Photo) > 0:
		fileID = msg.Photo[len(msg.Photo)-1].FileID // самое большое разрешение
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		fileID = msg.Document.FileID
	default:
		if msg.Text != "" {
			r.send(msg.Chat.ID, "Пришли фото, и я распознаю текст.")
		}
		return
	}

	prompt := r.Prompts.Get(msg.Chat.ID)
	if c := Resolve(msg.Caption); c != "" {
		prompt = c
	}
	go r.recognize(context.Background(), msg.Chat.ID, fileID, prompt)
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := r.Bot.Send(msg); err != nil && r.Log != nil {
		r.Log.Warnw("telegram send failed", "chat_id", chatID, "err", err)
	}
}

func (r *Router) SendResult(chatID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "(пусто)"
	}
	r.send(chatID, "📝 Распознанный текст:\n\n"+util.Truncate(text, maxMessageLen))
}

func (r *Router) SendError(chatID int64, err error) {
	r.send(chatID, fmt.Sprintf("Ошибка OCR: %v", err))
}
