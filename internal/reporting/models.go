package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one owner.
type CallsSummaryRequest struct {
	OwnerID string    `json:"owner_id"`
	Range   TimeRange `json:"range"`
}

type CallsSummary struct {
	OwnerID string `json:"owner_id"`

	TotalCalls      int `json:"total_calls"`
	PendingCalls    int `json:"pending_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	CompletedCalls  int `json:"completed_calls"`
	RecordedCalls   int `json:"recorded_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CancelledCalls  int `json:"cancelled_calls"`

	// ConsumedCalls counts jobs that consumed a call credit.
	ConsumedCalls int `json:"consumed_calls"`

	TotalDurationSeconds   int     `json:"total_duration_seconds"`
	AverageDurationSeconds int     `json:"average_duration_seconds"`
	ConnectionRate         float64 `json:"connection_rate"`
}
