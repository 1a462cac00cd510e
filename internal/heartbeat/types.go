// Package heartbeat defines the wire types shared between the agent and
// the server: the heartbeat record itself, its nested telemetry sections,
// and the alert taxonomy that the server's registry and dispatcher key on.
package heartbeat

import "time"

// AlertKind is the alert taxonomy. The persisted alerts.alert_type column
// is plain text and stores every kind as-is (see internal/store).
type AlertKind string

const (
	KindStartup       AlertKind = "startup"
	KindRecovery      AlertKind = "recovery"
	KindOffline       AlertKind = "offline"
	KindSystemWarning AlertKind = "system_warning"
	KindCameraFailure AlertKind = "camera_failure"
	KindTest          AlertKind = "test"
)

// Severity is the alert urgency level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status is a store's liveness state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// SystemStats is the OS-level telemetry section of a Heartbeat.
type SystemStats struct {
	CPUPercent        float64  `json:"cpu_usage"`
	MemPercent        float64  `json:"memory_usage"`
	MemAvailableGB    float64  `json:"memory_available_gb"`
	DiskFreeGB        float64  `json:"disk_free_gb"`
	DiskUsePercent    float64  `json:"disk_usage_percent"`
	ProcessMemMB      float64  `json:"process_memory_mb"`
	UptimeHours       float64  `json:"uptime_hours"`
	NetworkConnected  bool     `json:"network_connected"`
	NetworkSpeedMbps  *float64 `json:"network_speed_mbps,omitempty"`
}

// CameraInfo is the status of a single camera reported in a heartbeat.
type CameraInfo struct {
	Index  int    `json:"index"`
	Active bool   `json:"active"`
	Error  string `json:"error,omitempty"`
}

// CameraStatus is the camera section of a Heartbeat.
type CameraStatus struct {
	TotalCameras  int          `json:"total_cameras"`
	ActiveCameras int          `json:"active_cameras"`
	Cameras       []CameraInfo `json:"cameras,omitempty"`
}

// ApplicationStats is the application-counter section of a Heartbeat.
type ApplicationStats struct {
	LastDetectionTime        *time.Time `json:"last_detection_time,omitempty"`
	TotalDetectionsToday     int        `json:"total_detections_today"`
	AppVersion               string     `json:"app_version,omitempty"`
	RuntimeVersion           string     `json:"runtime_version,omitempty"`
	ConsecutiveFailures      int        `json:"consecutive_failures"`
	LastSuccessfulConnection *time.Time `json:"last_successful_connection,omitempty"`
}

// LocationInfo is the timezone/local-time section of a Heartbeat.
type LocationInfo struct {
	Timezone  string    `json:"timezone,omitempty"`
	LocalTime time.Time `json:"local_time"`
}

// NetworkSample is one historical network-speed probe result.
type NetworkSample struct {
	Mbps       float64   `json:"mbps"`
	MeasuredAt time.Time `json:"measured_at"`
}

// NetworkInfo is the network-speed-history section of a Heartbeat.
type NetworkInfo struct {
	CurrentSpeedMbps *float64        `json:"current_speed_mbps,omitempty"`
	RecentSamples    []NetworkSample `json:"recent_samples,omitempty"`
}

// Heartbeat is the wire record produced by the agent's telemetry collector
// and consumed by the server's ingestion endpoint.
type Heartbeat struct {
	StoreID          string           `json:"store_id"`
	StoreName        string           `json:"store_name"`
	Timestamp        time.Time        `json:"timestamp"`
	IsStartup        bool             `json:"is_startup"`
	SystemStats      SystemStats      `json:"system_stats"`
	CameraStatus     CameraStatus     `json:"camera_status"`
	ApplicationStats ApplicationStats `json:"application_stats"`
	LocationInfo     LocationInfo     `json:"location_info"`
	NetworkInfo      NetworkInfo      `json:"network_info"`
}

// Validate checks the invariants a Heartbeat must satisfy before it is
// accepted by the ingestion endpoint. It does not mutate the record.
func (h Heartbeat) Validate() error {
	if h.StoreID == "" {
		return ErrMissingStoreID
	}
	if h.CameraStatus.ActiveCameras < 0 || h.CameraStatus.ActiveCameras > h.CameraStatus.TotalCameras {
		return ErrBadCameraCounts
	}
	for _, pct := range []float64{h.SystemStats.CPUPercent, h.SystemStats.MemPercent, h.SystemStats.DiskUsePercent} {
		if pct < 0 || pct > 100 {
			return ErrBadPercent
		}
	}
	return nil
}
