package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"glm-ocr/api/internal/ocr"
	"glm-ocr/api/internal/store"
	"glm-ocr/api/internal/util"
)

func (r *Router) recognize(ctx context.Context, chatID int64, fileID, prompt string) {
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		r.SendError(chatID, err)
		return
	}
	dl := r.Download
	if dl == nil {
		dl = download
	}
	img, err := dl(ctx, url)
	if err != nil {
		r.SendError(chatID, fmt.Errorf("скачивание: %w", err))
		return
	}

	hash := util.SHA256Hex(img)
	if text, ok := r.cached(ctx, hash, prompt); ok {
		r.SendResult(chatID, text)
		return
	}

	r.send(chatID, "Фото принято, распознаю…")
	resp, err := r.OCR.Recognize(ctx, ocr.Request{
		Prompt:   prompt,
		ImageB64: base64.StdEncoding.EncodeToString(img),
	}, r.Wait)
	if err != nil {
		r.SendError(chatID, err)
		return
	}
	if !resp.OK() {
		r.SendError(chatID, errors.New(resp.Error))
		return
	}

	r.SendResult(chatID, resp.Text())
	r.remember(ctx, store.ResultRow{ImageHash: hash, Prompt: prompt, Model: r.Model, ChatID: chatID, Output: resp.Text()})
}

func (r *Router) cached(ctx context.Context, hash, prompt string) (string, bool) {
	if r.Cache == nil {
		return "", false
	}
	row, err := r.Cache.Find(ctx, hash, prompt, r.Model, r.CacheMaxAge)
	if err != nil {
		if !store.IsNotFound(err) && r.Log != nil {
			r.Log.Warnw("ocr cache lookup failed", "err", err)
		}
		return "", false
	}
	return row.Output, true
}

func (r *Router) remember(ctx context.Context, row store.ResultRow) {
	if r.Cache == nil {
		return
	}
	if err := r.Cache.Upsert(ctx, row); err != nil && r.Log != nil {
		r.Log.Warnw("ocr cache upsert failed", "err", err)
	}
}

func download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}
