package gateway

// Status is the outcome of a gateway operation.
type Status string

// Operation outcomes.
const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Result is the uniform outcome of publish, bind and unbind.
type Result struct {
	// Status is success or failure.
	Status Status `json:"status"`

	// Message is the middleware's response text, or the failure reason.
	Message string `json:"response"`
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

func success(msg string) Result {
	return Result{Status: StatusSuccess, Message: msg}
}

// failure converts err into a failure Result.
func failure(err error) Result {
	return Result{Status: StatusFailure, Message: err.Error()}
}

// Registration is the decoded response of a successful registration.
type Registration struct {
	// APIKey is the issued entity key.
	APIKey string

	// Fields holds every top-level field that could be decoded.
	Fields map[string]any

	// Raw is the unmodified response body.
	Raw []byte
}
