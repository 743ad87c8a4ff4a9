// Package safety implements the Safety Controller spec §4.6: draining a
// publisher-black-flag-remove queue, recomputing black flags from
// recent schema-failure counts, and notifying on newly set flags. The
// drain queue follows cuemby-warren's events.Broker shape (a buffered
// channel with a non-blocking publish and a run loop), simplified from
// a broadcast pub/sub down to a single-consumer work queue since this
// domain has exactly one reader.
package safety

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iati-pipeline/core/pkg/store"
)

// FlagRemovalQueue is the "publisher-black-flag-remove" external message
// queue spec §4.6 names, modeled as a buffered channel a notification
// webhook or operator tool can publish into.
type FlagRemovalQueue struct {
	ch chan string
}

// NewFlagRemovalQueue creates a queue with the given buffer depth.
func NewFlagRemovalQueue(buffer int) *FlagRemovalQueue {
	return &FlagRemovalQueue{ch: make(chan string, buffer)}
}

// Enqueue requests that orgID's black flag be cleared on the next drain.
// Non-blocking: a full queue silently drops the request, the same
// backpressure policy the teacher's event broker applies to subscribers.
func (q *FlagRemovalQueue) Enqueue(orgID string) {
	select {
	case q.ch <- orgID:
	default:
	}
}

// drain empties every pending request without blocking for more.
func (q *FlagRemovalQueue) drain() []string {
	var ids []string
	for {
		select {
		case id := <-q.ch:
			ids = append(ids, id)
		default:
			return ids
		}
	}
}

// Controller runs the Safety Controller pass.
type Controller struct {
	accessor      store.Accessor
	queue         *FlagRemovalQueue
	notifyURL     string
	http          *http.Client
	periodHours   int
	threshold     int
	logger        zerolog.Logger
}

func NewController(accessor store.Accessor, queue *FlagRemovalQueue, notifyURL string, periodHours, threshold int, logger zerolog.Logger) *Controller {
	return &Controller{
		accessor:    accessor,
		queue:       queue,
		notifyURL:   notifyURL,
		http:        &http.Client{Timeout: 10 * time.Second},
		periodHours: periodHours,
		threshold:   threshold,
		logger:      logger,
	}
}

// Run executes one Safety Controller pass: drain removals, recompute
// flags, notify on newly-set flags. Called before validation in the
// validate service loop, and independently from the `safety_check` CLI.
func (c *Controller) Run(ctx context.Context) error {
	for _, orgID := range c.queue.drain() {
		if err := c.accessor.SetBlackFlag(ctx, orgID, nil); err != nil {
			c.logger.Error().Str("publisher_id", orgID).Err(err).Msg("failed to clear black flag")
		}
	}

	publishers, err := c.accessor.ListPublishers(ctx)
	if err != nil {
		return fmt.Errorf("list publishers: %w", err)
	}

	cutoff := time.Now().Add(-time.Duration(c.periodHours) * time.Hour)
	for _, p := range publishers {
		docs, err := c.accessor.GetRefreshCandidates(ctx, p.OrgID)
		if err != nil {
			c.logger.Error().Str("publisher_id", p.OrgID).Err(err).Msg("failed to list documents for safety check")
			continue
		}

		failures := 0
		for _, d := range docs {
			if d.FileSchemaValid != nil && !*d.FileSchemaValid && d.ValidationRequest != nil && d.ValidationRequest.After(cutoff) {
				failures++
			}
		}

		if failures > c.threshold && p.BlackFlag == nil {
			now := time.Now()
			if err := c.accessor.SetBlackFlag(ctx, p.OrgID, &now); err != nil {
				c.logger.Error().Str("publisher_id", p.OrgID).Err(err).Msg("failed to set black flag")
				continue
			}
			p.BlackFlag = &now
		}
		if p.BlackFlag != nil && !p.BlackFlagNotified {
			if err := c.notify(ctx, p.OrgID); err != nil {
				c.logger.Warn().Str("publisher_id", p.OrgID).Err(err).Msg("black-flag notification failed, will retry next pass")
				continue
			}
		}
	}
	return nil
}

func (c *Controller) notify(ctx context.Context, orgID string) error {
	if c.notifyURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.notifyURL+"?org_id="+orgID, nil)
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}
	// Each attempt gets its own id so the receiving webhook can tell a
	// retried delivery from a second, independent black-flag event for
	// the same publisher.
	req.Header.Set("X-Idempotency-Key", uuid.New().String())
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify %q: %w", orgID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify %q: status %d", orgID, resp.StatusCode)
	}
	return c.accessor.MarkBlackFlagNotified(ctx, orgID)
}
