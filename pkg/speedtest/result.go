package speedtest

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Result holds a single speedtest measurement. Results are immutable
// once created; the cache coordinator replaces the whole record on
// refresh instead of mutating fields.
type Result struct {
	DownloadBps float64
	UploadBps   float64
	PingMs      float64
	JitterMs    float64
	ServerID    int64
	MeasuredAt  time.Time
	Success     bool
}

// FailedResult returns a sentinel record for a failed measurement
// attempt. All gauges project to zero and Success is false.
func FailedResult(t time.Time) *Result {
	return &Result{MeasuredAt: t}
}

// DownloadMbps returns the download speed in megabits per second,
// rounded for log output.
func (r *Result) DownloadMbps() float64 {
	return bitsToMegabits(r.DownloadBps)
}

// UploadMbps returns the upload speed in megabits per second, rounded
// for log output.
func (r *Result) UploadMbps() float64 {
	return bitsToMegabits(r.UploadBps)
}

// ParseError reports malformed or unexpected output from the speedtest
// binary.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse speedtest output: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse speedtest output: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// payload mirrors the subset of the CLI's JSON output we consume.
// Required leaves are pointers so a missing field is distinguishable
// from a zero value. Unknown fields are ignored.
type payload struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Ping  *struct {
		Jitter  *float64 `json:"jitter"`
		Latency *float64 `json:"latency"`
	} `json:"ping"`
	Download *struct {
		Bandwidth *float64 `json:"bandwidth"`
	} `json:"download"`
	Upload *struct {
		Bandwidth *float64 `json:"bandwidth"`
	} `json:"upload"`
	Server *struct {
		ID *int64 `json:"id"`
	} `json:"server"`
}

// ParseResult turns the raw JSON blob written by the speedtest binary
// into a Result. The returned record carries no timestamp and is not
// marked successful; the runner stamps it after the process exits
// cleanly.
func ParseResult(raw []byte) (*Result, error) {
	if len(raw) == 0 {
		return nil, &ParseError{Reason: "empty output"}
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}

	if p.Error != "" {
		return nil, &ParseError{Reason: fmt.Sprintf("tool reported error: %s", p.Error)}
	}
	if p.Type != "result" {
		return nil, &ParseError{Reason: fmt.Sprintf("unexpected output type %q", p.Type)}
	}

	if p.Ping == nil || p.Ping.Jitter == nil || p.Ping.Latency == nil {
		return nil, &ParseError{Reason: "missing ping section"}
	}
	if p.Download == nil || p.Download.Bandwidth == nil {
		return nil, &ParseError{Reason: "missing download bandwidth"}
	}
	if p.Upload == nil || p.Upload.Bandwidth == nil {
		return nil, &ParseError{Reason: "missing upload bandwidth"}
	}
	if p.Server == nil || p.Server.ID == nil {
		return nil, &ParseError{Reason: "missing server id"}
	}

	return &Result{
		DownloadBps: bytesToBits(*p.Download.Bandwidth),
		UploadBps:   bytesToBits(*p.Upload.Bandwidth),
		PingMs:      *p.Ping.Latency,
		JitterMs:    *p.Ping.Jitter,
		ServerID:    *p.Server.ID,
	}, nil
}

// The CLI reports bandwidth in bytes per second.
func bytesToBits(bytesPerSec float64) float64 {
	return bytesPerSec * 8
}

func bitsToMegabits(bitsPerSec float64) float64 {
	return math.Round(bitsPerSec*1e-6*100) / 100
}
