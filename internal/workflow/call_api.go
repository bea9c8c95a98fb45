package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/internal/net/ssrf"
	"github.com/chatforge/core/pkg/chatmodels"
)

const (
	defaultCallAPITimeout = 15 * time.Second
	maxCallAPITimeout     = 60 * time.Second
)

// CallAPIArgs is call_api's argument shape: a single outbound REST or
// GraphQL call.
type CallAPIArgs struct {
	URL           string            `json:"url"`
	Method        string            `json:"method,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          json.RawMessage   `json:"body,omitempty"`
	TimeoutSecond float64           `json:"timeout_seconds,omitempty"`

	// GraphQL: presence of Query switches this to a GraphQL POST.
	Query         string         `json:"query,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// CallAPIResult is call_api's structured response.
type CallAPIResult struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	JSON       json.RawMessage   `json:"json,omitempty"`
	Text       string            `json:"text,omitempty"`
}

// CallAPI performs a single SSRF-guarded outbound REST or GraphQL call.
func CallAPI(ctx context.Context, rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
	var args CallAPIArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: unmarshal call_api args", err)
	}

	parsed, err := url.Parse(args.URL)
	if err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: invalid call_api url", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return chatmodels.ToolResult{}, corekind.New(corekind.Validation, "workflow: call_api url scheme must be http or https")
	}
	if err := ssrf.ValidatePublicHostname(parsed.Hostname()); err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: call_api blocked by SSRF guard", err)
	}

	timeout := defaultCallAPITimeout
	if args.TimeoutSecond > 0 {
		timeout = time.Duration(args.TimeoutSecond * float64(time.Second))
	}
	if timeout > maxCallAPITimeout {
		timeout = maxCallAPITimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	isGraphQL := args.Query != ""
	method := strings.ToUpper(args.Method)
	if method == "" {
		method = "GET"
		if isGraphQL {
			method = "POST"
		}
	}

	var body io.Reader
	contentType := ""
	switch {
	case isGraphQL:
		payload, err := json.Marshal(map[string]any{
			"query":         args.Query,
			"variables":     args.Variables,
			"operationName": args.OperationName,
		})
		if err != nil {
			return chatmodels.ToolResult{}, corekind.Wrap(corekind.Invariant, "workflow: marshal graphql payload", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	case len(args.Body) > 0:
		if method == "GET" {
			return chatmodels.ToolResult{}, corekind.New(corekind.Validation, "workflow: call_api GET requests may not carry a body")
		}
		body = bytes.NewReader(args.Body)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, args.URL, body)
	if err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Invariant, "workflow: build call_api request", err)
	}
	for k, v := range args.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.UpstreamTransient, "workflow: call_api request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.UpstreamTransient, "workflow: read call_api response", err)
	}

	result := CallAPIResult{StatusCode: resp.StatusCode, Headers: flattenHeader(resp.Header)}
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		result.JSON = json.RawMessage(respBody)
	} else {
		result.Text = string(respBody)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Invariant, "workflow: marshal call_api result", err)
	}

	status := chatmodels.ToolStatusSuccess
	var asErr error
	if resp.StatusCode >= 400 {
		status = chatmodels.ToolStatusError
		asErr = corekind.New(corekind.UpstreamPermanent, fmt.Sprintf("workflow: call_api received status %d", resp.StatusCode))
	}
	return chatmodels.ToolResult{Status: status, Name: "call_api", Data: data}, asErr
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
