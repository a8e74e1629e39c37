package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clipdex/clipdex/errors"
	"github.com/clipdex/clipdex/logger"
)

// HTTPDispatcher publishes batch messages through a QStash-style HTTP
// queue: POST {publish_url}/{worker_url} with the message as the body
// and a bearer token. The queue service later delivers the body to the
// worker URL, at least once.
type HTTPDispatcher struct {
	client     *http.Client
	publishURL string
	workerURL  string
	token      string
	limiter    *rate.Limiter
	log        *zap.SugaredLogger
}

type HTTPDispatcherConfig struct {
	// PublishURL is the queue service's publish endpoint, without the
	// destination suffix.
	PublishURL string
	// WorkerURL is the destination the queue delivers each message to.
	WorkerURL string
	Token     string
	// PublishPerSecond paces enqueue calls; zero means unpaced.
	PublishPerSecond float64
	Timeout          time.Duration
}

func NewHTTPDispatcher(cfg HTTPDispatcherConfig) *HTTPDispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.PublishPerSecond > 0 {
		limit = rate.Limit(cfg.PublishPerSecond)
	}
	return &HTTPDispatcher{
		client:     &http.Client{Timeout: timeout},
		publishURL: strings.TrimRight(cfg.PublishURL, "/"),
		workerURL:  cfg.WorkerURL,
		token:      cfg.Token,
		limiter:    rate.NewLimiter(limit, 1),
		log:        logger.Named("queue"),
	}
}

// Enqueue publishes one batch message. Pacing blocks until the rate
// limiter admits the call or the context ends.
func (d *HTTPDispatcher) Enqueue(ctx context.Context, jobID string, itemIDs []string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "enqueue pacing interrupted")
	}

	body, err := json.Marshal(Message{JobID: jobID, ItemIDs: itemIDs})
	if err != nil {
		return errors.Wrap(err, "failed to marshal queue message")
	}

	endpoint := d.publishURL + "/" + url.QueryEscape(d.workerURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build publish request")
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to publish batch for job %s", jobID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("queue publish returned %d: %s", resp.StatusCode, string(snippet))
	}

	d.log.Debugw("batch enqueued", "job_id", jobID, "items", len(itemIDs))
	return nil
}
