// Package dispatch performs the outbound webhook POST for a due reminder.
//
// Delivery is deliberately at-most-once: the outcome (status code or
// transport error) is logged and never retried, matching the scheduler's
// policy of consuming a job regardless of delivery result.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Webhook struct {
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

type Options struct {
	// Timeout bounds a single delivery attempt. Defaults to 30s.
	Timeout time.Duration
	// RatePerSec caps outbound deliveries; zero means unlimited.
	RatePerSec int
	Log        zerolog.Logger
}

func NewWebhook(opts Options) *Webhook {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	w := &Webhook{
		client: &http.Client{Timeout: opts.Timeout},
		log:    opts.Log,
	}
	if opts.RatePerSec > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec)
	}
	return w
}

func (w *Webhook) Deliver(ctx context.Context, webhookURL string, payload map[string]any, id string) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			w.log.Warn().Err(err).Str("id", id).Msg("webhook delivery aborted waiting for rate limiter")
			return
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		w.log.Error().Err(err).Str("id", id).Msg("webhook payload not serializable")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		w.log.Error().Err(err).Str("id", id).Str("url", webhookURL).Msg("webhook request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn().Err(err).Str("id", id).Str("url", webhookURL).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// Any response counts as delivered; the status code is recorded, not
	// enforced.
	w.log.Info().Str("id", id).Str("url", webhookURL).Int("status", resp.StatusCode).Msg("webhook delivered")
}
