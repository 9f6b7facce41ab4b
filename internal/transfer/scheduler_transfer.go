package transfer

import "time"

type SchedulerStatus struct {
	Running   bool       `json:"running"`
	Interval  string     `json:"interval"`
	LastTick  *time.Time `json:"last_tick,omitempty"`
	Processed int64      `json:"processed"`
	Succeeded int64      `json:"succeeded"`
	Failed    int64      `json:"failed"`
	InFlight  int64      `json:"in_flight"`
}
