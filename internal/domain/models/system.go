package models

import "time"

// SystemRecord is one historical telemetry sample.
type SystemRecord struct {
	Timestamp          time.Time `json:"timestamp"`
	CPUUsage           float64   `json:"cpuUsage"`
	MemoryUsagePercent float64   `json:"memoryUsagePercent"`
	HeapUsagePercent   float64   `json:"heapUsagePercent"`
	ThreadCount        int       `json:"threadCount"`
}

// RecordFrom samples SystemData at ts.
func RecordFrom(sys SystemData, ts time.Time) SystemRecord {
	return SystemRecord{
		Timestamp:          ts,
		CPUUsage:           sys.CPUUsage,
		MemoryUsagePercent: sys.MemoryUsagePercent,
		HeapUsagePercent:   sys.HeapUsagePercent,
		ThreadCount:        sys.ThreadCount,
	}
}

// ConfigChangeEvent is published when a user saves a new dashboard config so
// every instance can re-push to that user's connections.
type ConfigChangeEvent struct {
	UserID     string    `json:"userId"`
	InstanceID string    `json:"instanceId"`
	ChangedAt  time.Time `json:"changedAt"`
}

// AlertMessage is the event-bus form of a fired alert.
type AlertMessage struct {
	UserID     string     `json:"userId"`
	RuleID     *int64     `json:"ruleId,omitempty"`
	Global     bool       `json:"global"`
	InstanceID string     `json:"instanceId"`
	Event      AlertEvent `json:"event"`
}

// ConnectionInfo describes one live stream for the connections endpoint.
type ConnectionInfo struct {
	Total int            `json:"total"`
	Users map[string]int `json:"users"`
}
