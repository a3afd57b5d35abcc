// Package softresult reports the outcome of best-effort calls that must never
// fail their caller.
package softresult

// Status of a best-effort operation.
type Status string

const (
	StatusOK         Status = "ok"
	StatusFailedSoft Status = "failed_soft"
	StatusSkipped    Status = "skipped"
)

// Result is returned in place of an error.
type Result struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func OK() Result { return Result{Status: StatusOK} }

func Skipped(reason string) Result { return Result{Status: StatusSkipped, Reason: reason} }

// Failed wraps err as a soft failure.
func Failed(err error) Result {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return Result{Status: StatusFailedSoft, Reason: reason}
}

func (r Result) OK() bool      { return r.Status == StatusOK }
func (r Result) Skipped() bool { return r.Status == StatusSkipped }
func (r Result) Failed() bool  { return r.Status == StatusFailedSoft }
