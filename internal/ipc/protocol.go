// Package ipc carries attempt control commands (status, stop, retry) over a
// per-user unix socket, so a second terminal can steer the running attempt.
package ipc

// Request is one control command for the running attempt.
type Request struct {
	Command string `json:"command"`
}

// Response reports the outcome plus the attempt's current lifecycle state.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Attempt string `json:"attempt,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
