package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/config"
)

// Notifier delivers job notifications to an external sink. Delivery failures
// are reported but never affect the job.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

type logNotifier struct{}

// NewLogNotifier writes every notification to the process log.
func NewLogNotifier() Notifier { return logNotifier{} }

func (logNotifier) Notify(ctx context.Context, n model.Notification) error {
	log.Printf("INFO: [NOTIFY] %s rfp=%s job=%s: %s", n.Type, n.RFPID, n.JobID, n.Message)
	return nil
}

type webhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier POSTs each notification as JSON to url.
func NewWebhookNotifier(url string) Notifier {
	return &webhookNotifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *webhookNotifier) Notify(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("webhook notify: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook notify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook notify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notify: %s returned status %d", w.url, resp.StatusCode)
	}
	return nil
}

type redisNotifier struct {
	rdb  *redis.Client
	list string
}

// NewRedisNotifier LPUSHes each notification as JSON onto list.
func NewRedisNotifier(rdb *redis.Client, list string) Notifier {
	return &redisNotifier{rdb: rdb, list: list}
}

func (r *redisNotifier) Notify(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("redis notify: encode: %w", err)
	}
	if err := r.rdb.LPush(ctx, r.list, body).Err(); err != nil {
		return fmt.Errorf("redis notify %s: %w", r.list, err)
	}
	return nil
}

type fanout []Notifier

// Fanout delivers to every sink and joins their errors.
func Fanout(sinks ...Notifier) Notifier { return fanout(sinks) }

func (f fanout) Notify(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig always logs, and adds the webhook and Redis sinks that are configured.
// rdb may be nil when Redis is not in use.
func FromConfig(cfg *config.Config, rdb *redis.Client) Notifier {
	sinks := []Notifier{NewLogNotifier()}
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, NewWebhookNotifier(cfg.NotifyWebhookURL))
	}
	if cfg.NotifyRedisList != "" {
		if rdb == nil {
			log.Printf("WARN: NOTIFY_REDIS_LIST=%s set but Redis is not connected, sink disabled", cfg.NotifyRedisList)
		} else {
			sinks = append(sinks, NewRedisNotifier(rdb, cfg.NotifyRedisList))
		}
	}
	return Fanout(sinks...)
}
