package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"contribline/internal/config"
	"contribline/internal/domain"
	"contribline/internal/engine"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookBatch   = 100
)

// EventDispatcher posts new events to the webhooks each project
// configures. Delivery is in order per hook; a failed delivery is retried
// on the next pass.
type EventDispatcher struct {
	engine  engine.Engine
	log     *zap.Logger
	client  *http.Client
	mu      sync.Mutex
	cursors map[string]int64
}

func NewEventDispatcher(e engine.Engine, log *zap.Logger) *EventDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventDispatcher{
		engine:  e,
		log:     log,
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		cursors: make(map[string]int64),
	}
}

// DispatchAll makes one delivery pass over every project.
func (d *EventDispatcher) DispatchAll(ctx context.Context) {
	for p, err := range d.engine.Store.Projects().All(ctx) {
		if err != nil {
			d.log.Error("webhook: list projects", zap.Error(err))
			return
		}
		cfg, err := d.engine.ProjectConfig(ctx, p.ID())
		if err != nil {
			d.log.Error("webhook: project config", zap.String("project", p.ID().String()), zap.Error(err))
			continue
		}
		for i, hook := range cfg.Webhooks {
			if hook.Enabled != nil && !*hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.URL) == "" {
				continue
			}
			d.dispatchWebhook(ctx, p.ID(), i, hook)
		}
	}
}

func (d *EventDispatcher) dispatchWebhook(ctx context.Context, project domain.ProjectID, idx int, hook config.WebhookConfig) {
	key := fmt.Sprintf("%s|%d|%s", project, idx, hook.URL)
	cursor := d.cursorFor(ctx, key, project)
	events, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, project.String())
	if err != nil {
		d.log.Error("webhook: fetch events", zap.String("project", project.String()), zap.Error(err))
		return
	}
	for _, evt := range events {
		if !hook.Wants(evt.Type) {
			d.setCursor(key, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, project, hook, evt); err != nil {
			d.log.Warn("webhook: delivery failed", zap.String("url", hook.URL), zap.Int64("event", evt.ID), zap.Error(err))
			return
		}
		d.setCursor(key, evt.ID)
	}
}

// cursorFor starts a hook seen for the first time at the latest event, so
// history is not replayed on restart.
func (d *EventDispatcher) cursorFor(ctx context.Context, key string, project domain.ProjectID) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[key]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventID(ctx, project.String())
	if err != nil {
		d.log.Error("webhook: init cursor", zap.String("project", project.String()), zap.Error(err))
		cur = 0
	}
	d.cursors[key] = cur
	return cur
}

func (d *EventDispatcher) setCursor(key string, value int64) {
	d.mu.Lock()
	d.cursors[key] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *EventDispatcher) postEvent(ctx context.Context, project domain.ProjectID, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Contribline-Event", evt.Type)
	req.Header.Set("X-Contribline-Event-Id", strconv.FormatInt(evt.ID, 10))
	req.Header.Set("X-Contribline-Delivery", uuid.NewString())
	req.Header.Set("X-Contribline-Project", project.String())
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Contribline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
