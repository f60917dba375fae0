package api

import "io"

// Action names what a command asks the device to do.
type Action string

const ActionMakeCall Action = "make_call"

// Command is one instruction pulled from the device queue.
type Command struct {
	Action      Action `json:"action"`
	PhoneNumber string `json:"phoneNumber"`
	CallID      string `json:"callId"`
	AudioFileID int    `json:"audioFileId,omitempty"`
}

// HasAudio reports whether the command attaches an audio asset.
func (c *Command) HasAudio() bool {
	return c != nil && c.AudioFileID > 0
}

// DeviceRegistration is the body of POST /devices/register.
type DeviceRegistration struct {
	DeviceID       string   `json:"deviceId"`
	DeviceName     string   `json:"deviceName"`
	DeviceModel    string   `json:"deviceModel"`
	AndroidVersion string   `json:"androidVersion"`
	AppVersion     string   `json:"appVersion"`
	Capabilities   []string `json:"capabilities,omitempty"`
}

// DefaultCapabilities are advertised when registering.
var DefaultCapabilities = []string{"voice_call", "dtmf_input"}

// RegistrationResult is the optional envelope returned by registration.
type RegistrationResult struct {
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// DeviceStatus is the presence state reported for the device.
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
)

type deviceStatusRequest struct {
	Status DeviceStatus `json:"status"`
}

// StatusReport is the body of PUT /call-logs/{callId}/status.
type StatusReport struct {
	Status    string `json:"status"`
	DeviceID  string `json:"deviceId"`
	Answered  *bool  `json:"answered,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Timestamp string `json:"timestamp"`
}

// DTMFReport is the body of PUT /call-logs/{callId}/dtmf.
type DTMFReport struct {
	DTMFResponse string `json:"dtmfResponse"`
	DeviceID     string `json:"deviceId"`
	Timestamp    string `json:"timestamp"`
}

// Download is an open asset response body.
type Download struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}
