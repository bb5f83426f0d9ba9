package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/rbccps-iisc/ideam-go/pkg/apierr"
	"github.com/rbccps-iisc/ideam-go/pkg/entity"
	"github.com/rbccps-iisc/ideam-go/pkg/transport"
	"github.com/rbccps-iisc/ideam-go/pkg/version"
)

// API paths, relative to the base URL.
const (
	RegisterPath = apiPrefix + "register"
	PublishPath  = apiPrefix + "publish"
	BindPath     = apiPrefix + "subscribe/bind"
	UnbindPath   = apiPrefix + "subscribe/unbind"
	HistoricPath = apiPrefix + "historicData"

	apiPrefix = "api/" + version.API + "/"
)

// Exchange is the middleware exchange every entity publishes to.
const Exchange = "amq.topic"

// DefaultQueryFilters is used by HistoricData when no filters are given.
const DefaultQueryFilters = "size=10"

// ServiceTypes are the permissions requested at registration.
const ServiceTypes = "publish,subscribe,historicData"

// maxResponseSize bounds a response body read into memory.
const maxResponseSize = 16 << 20

// Operation names used in errors and logs.
const (
	opRegister = "register"
	opPublish  = "publish"
	opBind     = "bind"
	opUnbind   = "unbind"
	opHistoric = "historicData"
)

// ErrNoIdentity is returned by NewClient without an Identity.
var ErrNoIdentity = errors.New("gateway: Identity is required")

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// Identity supplies base URL and keys. Required.
	Identity *entity.Identity

	// BoundKeys tracks bound device keys. A new set is used if nil.
	BoundKeys *entity.KeySet

	// HTTPClient is used for all requests. If nil, a client is built from Transport.
	HTTPClient *http.Client

	// Transport configures the client built when HTTPClient is nil.
	Transport transport.Config

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client performs single-shot middleware operations for one entity.
type Client struct {
	identity   *entity.Identity
	bound      *entity.KeySet
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new gateway client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Identity == nil {
		return nil, ErrNoIdentity
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = transport.NewRequestClient(config.Transport)
	}

	bound := config.BoundKeys
	if bound == nil {
		bound = entity.NewKeySet()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		identity:   config.Identity,
		bound:      bound,
		httpClient: httpClient,
		logger:     logger.With("entity_id", config.Identity.EntityID()),
	}, nil
}

// Identity returns the client's identity.
func (c *Client) Identity() *entity.Identity {
	return c.identity
}

// BoundKeys returns the keys bound through this client.
func (c *Client) BoundKeys() *entity.KeySet {
	return c.bound
}

// CloseIdleConnections closes idle pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Register registers the entity with the owner key and returns the issued
// entity key. The key is not stored; pass it to Identity.SetEntityAPIKey.
func (c *Client) Register(ctx context.Context) (*Registration, error) {
	headers := http.Header{}
	headers.Set("apikey", c.identity.OwnerAPIKey())
	headers.Set("resourceID", c.identity.EntityID())
	headers.Set("serviceType", ServiceTypes)

	status, body, err := c.doRequest(ctx, opRegister, http.MethodGet, RegisterPath, headers, nil)
	if err != nil {
		return nil, err
	}

	reg, err := decodeRegister(status, body)
	if err != nil {
		c.logger.Warn("registration failed", "status", status, "error", err)
		return nil, err
	}
	c.logger.Info("registered entity")
	return reg, nil
}

type publishRequest struct {
	Exchange string `json:"exchange"`
	Key      string `json:"key"`
	Body     string `json:"body"`
}

// Publish publishes data under the entity's own key.
func (c *Client) Publish(ctx context.Context, data string) (Result, error) {
	key, err := c.identity.RequireEntityKey(opPublish)
	if err != nil {
		return failure(err), err
	}

	req := publishRequest{Exchange: Exchange, Key: c.identity.EntityID(), Body: data}
	status, body, err := c.doRequest(ctx, opPublish, http.MethodPost, PublishPath, apiKeyHeader(key), req)
	if err != nil {
		return failure(err), err
	}
	return decodeAck(opPublish, markerPublish, status, body)
}

type bindRequest struct {
	Exchange string   `json:"exchange"`
	Keys     []string `json:"keys"`
	Queue    string   `json:"queue"`
}

// Bind binds the entity's queue to the given device keys so their data
// is delivered on the subscribe stream.
func (c *Client) Bind(ctx context.Context, keys []string) (Result, error) {
	res, err := c.bindOp(ctx, opBind, http.MethodPost, BindPath, markerBind, keys)
	if err == nil {
		c.bound.Add(keys...)
	}
	return res, err
}

// Unbind removes the given device keys from the entity's queue.
func (c *Client) Unbind(ctx context.Context, keys []string) (Result, error) {
	res, err := c.bindOp(ctx, opUnbind, http.MethodDelete, UnbindPath, markerUnbind, keys)
	if err == nil {
		c.bound.Remove(keys...)
	}
	return res, err
}

func (c *Client) bindOp(ctx context.Context, op, method, path string, marker []byte, keys []string) (Result, error) {
	key, err := c.identity.RequireEntityKey(op)
	if err != nil {
		return failure(err), err
	}
	if keys == nil {
		keys = []string{}
	}

	req := bindRequest{Exchange: Exchange, Keys: keys, Queue: c.identity.EntityID()}
	status, body, err := c.doRequest(ctx, op, method, path, apiKeyHeader(key), req)
	if err != nil {
		return failure(err), err
	}

	res, err := decodeAck(op, marker, status, body)
	if err == nil {
		c.logger.Info(op+" ok", "keys", keys)
	}
	return res, err
}

type historicQuery struct {
	Query struct {
		Match struct {
			Key string `json:"key"`
		} `json:"match"`
	} `json:"query"`
}

// HistoricData queries stored data published under entityName. filters is
// appended to the URL verbatim (e.g. "pretty=true&size=10"); empty means
// DefaultQueryFilters. The response body is returned unparsed.
func (c *Client) HistoricData(ctx context.Context, entityName, filters string) ([]byte, error) {
	key, err := c.identity.RequireEntityKey(opHistoric)
	if err != nil {
		return nil, err
	}
	if filters == "" {
		filters = DefaultQueryFilters
	}

	var q historicQuery
	q.Query.Match.Key = entityName

	status, body, err := c.doRequest(ctx, opHistoric, http.MethodGet, HistoricPath+"?"+filters, apiKeyHeader(key), q)
	if err != nil {
		return nil, err
	}
	return decodeHistoric(status, body)
}

func apiKeyHeader(key string) http.Header {
	h := http.Header{}
	h.Set("apikey", key)
	return h
}

// doRequest performs one request and returns the status and body. Only
// failures to exchange the request are errors; the status is interpreted
// by the endpoint decoders.
func (c *Client) doRequest(ctx context.Context, op, method, path string, headers http.Header, requestBody any) (int, []byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return 0, nil, fmt.Errorf("gateway: failed to encode %s request: %w", op, err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.identity.Endpoint(path), bodyReader)
	if err != nil {
		return 0, nil, apierr.Wrap(apierr.KindProtocol, op, err)
	}
	for k, v := range headers {
		request.Header[k] = v
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, nil, networkError(ctx, op, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return response.StatusCode, nil, networkError(ctx, op, err)
	}

	c.logger.Debug("gateway request", "op", op, "method", method, "status", response.StatusCode, "bytes", len(body))
	return response.StatusCode, body, nil
}

func networkError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return apierr.Wrap(apierr.KindCancelled, op, err)
	}
	if transport.IsTimeout(err) {
		return &apierr.Error{Kind: apierr.KindNetwork, Op: op, Message: "timeout", Err: err}
	}
	return apierr.Wrap(apierr.KindNetwork, op, err)
}
