package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hybridprotocol/newsletter/internal/dispatch"
	"github.com/hybridprotocol/newsletter/internal/newsletter"
	"github.com/hybridprotocol/newsletter/internal/tasks"
	"github.com/hybridprotocol/newsletter/pkg/cache"
)

type sendRequest struct {
	BatchSize int `json:"batch_size"`
}

type testRequest struct {
	Email string `json:"email"`
}

type queuedResponse struct {
	Status       string `json:"status"`
	SendKey      string `json:"send_key,omitempty"`
	Email        string `json:"email,omitempty"`
	NewsletterID int64  `json:"newsletter_id"`
}

type statsResponse struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

type deliveriesResponse struct {
	SentAt       *time.Time                    `json:"sent_at,omitempty"`
	SendKey      string                        `json:"send_key"`
	Entries      []newsletter.DeliveryLogEntry `json:"entries"`
	Stats        statsResponse                 `json:"stats"`
	NewsletterID int64                         `json:"newsletter_id"`
	NextAfter    int64                         `json:"next_after,omitempty"`
}

func (h *handler) send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sendKey := chi.URLParam(r, "sendKey")

	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.BatchSize < 0 {
		writeError(w, r, http.StatusBadRequest, "batch_size must not be negative")
		return
	}

	n, ok := h.newsletterBySendKey(w, r, sendKey)
	if !ok {
		return
	}
	if n.Sent() {
		writeError(w, r, http.StatusConflict, "newsletter already sent")
		return
	}

	p := tasks.SendNewsletterPayload{SendKey: n.SendKey, BatchSize: req.BatchSize}
	if err := tasks.EnqueueSend(ctx, h.deps.Enqueuer, p); err != nil {
		h.logger.ErrorContext(ctx, "failed to enqueue send",
			slog.String("send_key", n.SendKey),
			slog.Any("error", err),
		)
		writeError(w, r, http.StatusInternalServerError, "failed to enqueue send")
		return
	}

	h.logger.InfoContext(ctx, "send enqueued",
		slog.String("send_key", n.SendKey),
		slog.Int64("newsletter_id", n.ID),
		slog.Int("batch_size", req.BatchSize),
	)
	writeJSON(w, http.StatusAccepted, queuedResponse{Status: "queued", SendKey: n.SendKey, NewsletterID: n.ID})
}

func (h *handler) sendTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid newsletter id")
		return
	}

	var req testRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid email address")
		return
	}

	n, err := h.deps.Newsletters.ByID(ctx, id)
	switch {
	case errors.Is(err, newsletter.ErrNewsletterNotFound):
		writeError(w, r, http.StatusNotFound, "newsletter not found")
		return
	case err != nil:
		h.internalError(w, r, "failed to load newsletter", err)
		return
	}

	p := tasks.SendTestPayload{Email: addr.Address, NewsletterID: n.ID}
	if err := tasks.EnqueueTest(ctx, h.deps.Enqueuer, p); err != nil {
		h.internalError(w, r, "failed to enqueue test send", err)
		return
	}

	h.logger.InfoContext(ctx, "test send enqueued", slog.Int64("newsletter_id", n.ID))
	writeJSON(w, http.StatusAccepted, queuedResponse{Status: "queued", Email: addr.Address, NewsletterID: n.ID})
}

func (h *handler) deliveries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	after, err := queryInt(q.Get("after"), 0)
	if err != nil || after < 0 {
		writeError(w, r, http.StatusBadRequest, "invalid after")
		return
	}
	limit, err := queryInt(q.Get("limit"), defaultListLimit)
	if err != nil || limit <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, maxListLimit)

	n, ok := h.newsletterBySendKey(w, r, chi.URLParam(r, "sendKey"))
	if !ok {
		return
	}

	entries, err := h.deps.Ledger.List(ctx, n.ID, after, int(limit))
	if err != nil {
		h.internalError(w, r, "failed to list deliveries", err)
		return
	}
	stats, err := h.statsFor(ctx, n.ID)
	if err != nil {
		h.internalError(w, r, "failed to aggregate deliveries", err)
		return
	}

	resp := deliveriesResponse{
		SentAt:       n.SentAt,
		SendKey:      n.SendKey,
		Entries:      entries,
		Stats:        statsResponse{Sent: stats.Sent, Failed: stats.Failed, Total: stats.Total()},
		NewsletterID: n.ID,
	}
	if resp.Entries == nil {
		resp.Entries = []newsletter.DeliveryLogEntry{}
	}
	if int64(len(entries)) == limit {
		resp.NextAfter = entries[len(entries)-1].RecipientID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) progress(w http.ResponseWriter, r *http.Request) {
	if h.deps.Progress == nil {
		writeError(w, r, http.StatusNotFound, "no progress recorded")
		return
	}
	p, err := h.deps.Progress.Progress(r.Context(), chi.URLParam(r, "sendKey"))
	switch {
	case errors.Is(err, dispatch.ErrNoProgress):
		writeError(w, r, http.StatusNotFound, "no progress recorded")
	case err != nil:
		h.internalError(w, r, "failed to read progress", err)
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

const unsubscribedPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>Unsubscribed</title></head>
<body><p>You have been unsubscribed and will no longer receive this newsletter.</p></body></html>
`

// unsubscribe serves both the link in the email footer (GET) and RFC 8058
// one-click requests (POST). Unknown recipients are answered like known ones.
func (h *handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rid, err := h.deps.Links.VerifyUnsubscribe(r.FormValue("t"))
	if err != nil {
		http.Error(w, "invalid unsubscribe link", http.StatusBadRequest)
		return
	}

	err = h.deps.Recipients.Unsubscribe(ctx, rid)
	switch {
	case errors.Is(err, newsletter.ErrRecipientNotFound):
		h.logger.WarnContext(ctx, "unsubscribe for unknown recipient", slog.Int64("recipient_id", rid))
	case err != nil:
		h.logger.ErrorContext(ctx, "failed to unsubscribe", slog.Int64("recipient_id", rid), slog.Any("error", err))
		http.Error(w, "could not process unsubscribe request", http.StatusInternalServerError)
		return
	default:
		h.logger.InfoContext(ctx, "recipient unsubscribed", slog.Int64("recipient_id", rid))
	}

	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(unsubscribedPage))
}

func (h *handler) newsletterBySendKey(w http.ResponseWriter, r *http.Request, sendKey string) (newsletter.Newsletter, bool) {
	n, err := h.deps.Newsletters.BySendKey(r.Context(), sendKey)
	switch {
	case errors.Is(err, newsletter.ErrNewsletterNotFound):
		writeError(w, r, http.StatusNotFound, "newsletter not found")
		return n, false
	case err != nil:
		h.internalError(w, r, "failed to load newsletter", err)
		return n, false
	}
	return n, true
}

func (h *handler) statsFor(ctx context.Context, newsletterID int64) (newsletter.DeliveryStats, error) {
	load := func(ctx context.Context) (newsletter.DeliveryStats, time.Duration, error) {
		s, err := h.deps.Ledger.Stats(ctx, newsletterID)
		return s, h.statsTTL, err
	}
	if h.stats == nil {
		s, _, err := load(ctx)
		return s, err
	}
	return cache.GetOrSet(ctx, h.stats, fmt.Sprintf("stats:%d", newsletterID), load)
}

func (h *handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
	writeError(w, r, http.StatusInternalServerError, msg)
}

func queryInt(raw string, def int64) (int64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
