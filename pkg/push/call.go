package push

import (
	"fmt"
	"strconv"
)

// CallNotificationData carries what a call notification shows
type CallNotificationData struct {
	CallID     string
	CallType   string
	CallerID   string
	CallerName string
	Subject    string
	Reason     string
	Duration   int
}

// IncomingCallNotification rings the receiver's devices
func IncomingCallNotification(d *CallNotificationData) *Notification {
	body := fmt.Sprintf("%s is calling you", d.CallerName)
	if d.Subject != "" {
		body = fmt.Sprintf("%s is calling you about %s", d.CallerName, d.Subject)
	}
	return &Notification{
		Title:    fmt.Sprintf("Incoming %s call", d.CallType),
		Body:     body,
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data:     d.data("incoming_call"),
	}
}

// MissedCallNotification tells a party that nobody picked up
func MissedCallNotification(d *CallNotificationData) *Notification {
	return &Notification{
		Title:    "Missed Call",
		Body:     fmt.Sprintf("You missed a call from %s", d.CallerName),
		Priority: "normal",
		Sound:    "default",
		Data:     d.data("missed_call"),
	}
}

// CallEndedNotification reports the final duration
func CallEndedNotification(d *CallNotificationData) *Notification {
	return &Notification{
		Title:    "Call Ended",
		Body:     fmt.Sprintf("Call ended. Duration: %s", formatDuration(int64(d.Duration))),
		Priority: "normal",
		Data:     d.data("call_ended"),
	}
}

func (d *CallNotificationData) data(kind string) map[string]string {
	m := map[string]string{
		"type":      kind,
		"call_id":   d.CallID,
		"call_type": d.CallType,
		"caller_id": d.CallerID,
	}
	if d.CallerName != "" {
		m["caller_name"] = d.CallerName
	}
	if d.Reason != "" {
		m["reason"] = d.Reason
	}
	if kind == "call_ended" {
		m["duration"] = strconv.Itoa(d.Duration)
	}
	return m
}

// formatDuration formats duration in seconds to human-readable format
func formatDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
