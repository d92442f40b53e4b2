package model

import "time"

type NotificationType string

const (
	NotificationQueued     NotificationType = "queued"
	NotificationSuccessful NotificationType = "successful"
	NotificationFailed     NotificationType = "failed"
)

type Notification struct {
	Type      NotificationType `json:"type"`
	RFPID     string           `json:"rfp_id"`
	JobID     string           `json:"job_id"`
	Portal    string           `json:"portal,omitempty"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}
