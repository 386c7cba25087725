package usecase

import (
	"context"
	"encoding/json"

	"PulseBoard/internal/domain/models"
	pkgkafka "PulseBoard/pkg/kafka"
)

// ConfigChangeHandler re-pushes dashboards when another instance reports a
// config change.
type ConfigChangeHandler struct {
	topic       string
	instanceID  string
	coordinator *Coordinator
}

func NewConfigChangeHandler(topic, instanceID string, coordinator *Coordinator) *ConfigChangeHandler {
	return &ConfigChangeHandler{topic: topic, instanceID: instanceID, coordinator: coordinator}
}

func (h *ConfigChangeHandler) Topic() string { return h.topic }

func (h *ConfigChangeHandler) Handle(_ context.Context, b []byte) error {
	var ev models.ConfigChangeEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return err
	}
	if ev.InstanceID == h.instanceID {
		return nil
	}
	h.coordinator.ScheduleRebroadcast(ev.UserID)
	return nil
}

// RemoteAlertHandler delivers alerts fired on other instances to local
// connections.
type RemoteAlertHandler struct {
	topic  string
	alerts *AlertService
}

func NewRemoteAlertHandler(topic string, alerts *AlertService) *RemoteAlertHandler {
	return &RemoteAlertHandler{topic: topic, alerts: alerts}
}

func (h *RemoteAlertHandler) Topic() string { return h.topic }

func (h *RemoteAlertHandler) Handle(ctx context.Context, b []byte) error {
	var msg models.AlertMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return err
	}
	h.alerts.DeliverRemote(ctx, msg)
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*ConfigChangeHandler)(nil)
	_ pkgkafka.MessageHandler = (*RemoteAlertHandler)(nil)
)
