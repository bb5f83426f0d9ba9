package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rbccps-iisc/ideam-go/pkg/apierr"
)

// Response markers.
var (
	markerNoAPIKey = []byte("No API key")
	markerAPIKey   = []byte("APIKey")
	markerPublish  = []byte("publish message ok")
	markerBind     = []byte("bind queue ok")
	markerUnbind   = []byte("unbind")
)

var errNotObject = errors.New("body is not a JSON object")

// scanObject decodes the top-level fields of the first JSON object in body,
// one at a time. Fields that decode before a syntax error are returned along
// with the error, so a response with a damaged tail still yields its
// leading fields. Bytes after the closing brace are ignored.
func scanObject(body []byte) (map[string]any, error) {
	start := bytes.IndexByte(body, '{')
	if start < 0 {
		return nil, errNotObject
	}
	dec := json.NewDecoder(bytes.NewReader(body[start:]))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	fields := make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fields, err
		}
		key, ok := tok.(string)
		if !ok {
			return fields, errNotObject
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fields, err
		}
		fields[key] = value
	}
	if _, err := dec.Token(); err != nil {
		return fields, err
	}
	return fields, nil
}

// messageOf returns the "message" field of a JSON body, or the trimmed body.
func messageOf(body []byte) string {
	if fields, _ := scanObject(body); fields != nil {
		if msg, ok := fields["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return string(bytes.TrimSpace(body))
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func is2xx(status int) bool {
	return status >= 200 && status <= 299
}

func authRejected(op string, status int, body []byte) error {
	return &apierr.Error{Kind: apierr.KindAuthRejected, Op: op, Message: messageOf(body), StatusCode: status}
}

func protocolError(op string, status int, body []byte) error {
	msg := string(bytes.TrimSpace(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &apierr.Error{Kind: apierr.KindProtocol, Op: op, Message: msg, StatusCode: status}
}

// decodeRegister decodes a register response. The issued key is only
// accepted from a 2xx response and only if it decodes as a non-empty string.
func decodeRegister(status int, body []byte) (*Registration, error) {
	if bytes.Contains(body, markerNoAPIKey) || isAuthStatus(status) {
		return nil, authRejected(opRegister, status, body)
	}

	fields, scanErr := scanObject(body)
	if key, ok := fields["APIKey"].(string); ok && key != "" {
		if !is2xx(status) {
			return nil, protocolError(opRegister, status, body)
		}
		return &Registration{APIKey: key, Fields: fields, Raw: body}, nil
	}
	if bytes.Contains(body, markerAPIKey) {
		return nil, &apierr.Error{
			Kind:       apierr.KindProtocol,
			Op:         opRegister,
			Message:    "response mentions APIKey but no key could be decoded",
			StatusCode: status,
			Err:        scanErr,
		}
	}
	if scanErr == nil {
		return nil, &apierr.Error{Kind: apierr.KindRejected, Op: opRegister, Message: messageOf(body), StatusCode: status}
	}
	return nil, protocolError(opRegister, status, body)
}

// decodeAck decodes the response of publish, bind or unbind, which signal
// success with marker in a 2xx body.
func decodeAck(op string, marker []byte, status int, body []byte) (Result, error) {
	switch {
	case bytes.Contains(body, markerNoAPIKey):
		err := authRejected(op, status, body)
		return failure(err), err
	case is2xx(status) && bytes.Contains(body, marker):
		return success(string(bytes.TrimSpace(body))), nil
	case isAuthStatus(status):
		err := authRejected(op, status, body)
		return failure(err), err
	default:
		err := protocolError(op, status, body)
		return failure(err), err
	}
}

// decodeHistoric passes a 2xx body through verbatim.
func decodeHistoric(status int, body []byte) ([]byte, error) {
	switch {
	case bytes.Contains(body, markerNoAPIKey), isAuthStatus(status):
		return nil, authRejected(opHistoric, status, body)
	case !is2xx(status):
		return nil, protocolError(opHistoric, status, body)
	}
	return body, nil
}
