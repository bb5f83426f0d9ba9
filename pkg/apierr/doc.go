// Package apierr classifies failures of middleware operations.
//
// Every error returned by the gateway and the subscription controller that
// the caller may want to branch on is an *Error carrying a Kind. Match on
// the kind with errors.Is against the exported sentinels:
//
//	if errors.Is(err, apierr.ErrAuthNotReady) {
//	    // register first, then set the entity API key
//	}
//
// or extract the details with errors.As:
//
//	var apiErr *apierr.Error
//	if errors.As(err, &apiErr) {
//	    log.Printf("%s failed: %s", apiErr.Op, apiErr.Message)
//	}
package apierr
