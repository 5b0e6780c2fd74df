package gateway

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind is the closed set of classified upstream failure categories.
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindRateLimit     ErrorKind = "rate_limit"
	KindAuthentication ErrorKind = "authentication"
	KindConnection    ErrorKind = "connection"
	KindServerError   ErrorKind = "server_error"
	KindClientError   ErrorKind = "client_error"
	KindQuota         ErrorKind = "quota"
	KindCircuitOpen   ErrorKind = "circuit_open"
	KindUnknown       ErrorKind = "unknown"
)

// Severity is the classified impact level of an upstream failure.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ErrorClassification is the output of ClassifyError.
type ErrorClassification struct {
	Kind      ErrorKind
	Severity  Severity
	Retryable bool
}

// StatusCoder is implemented by upstream errors that carry an HTTP-like
// status code. Adapters that wrap HTTP responses should implement this so
// ClassifyError can distinguish 4xx from 5xx without string matching.
type StatusCoder interface {
	StatusCode() int
}

var retryableKinds = map[ErrorKind]bool{
	KindTimeout:     true,
	KindRateLimit:   true,
	KindConnection:  true,
	KindServerError: true,
	KindUnknown:     true,
}

var criticalPhrases = []string{
	"authentication failed",
	"unauthorized",
	"invalid api key",
	"forbidden",
	"account suspended",
	"permanently exceeded",
}

var severityByKind = map[ErrorKind]Severity{
	KindAuthentication: SeverityCritical,
	KindQuota:          SeverityMedium, // overridden below for permanent quota
	KindRateLimit:      SeverityHigh,
	KindServerError:    SeverityHigh,
	KindTimeout:        SeverityLow,
	KindConnection:     SeverityLow,
	KindClientError:    SeverityMedium,
	KindCircuitOpen:    SeverityMedium,
	KindUnknown:        SeverityMedium,
}

// ClassifyError maps a raw upstream error to {kind, severity, retryable}
// using a closed, canonical set of kind labels (rate_limit, authentication,
// connection, …).
func ClassifyError(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{Kind: KindUnknown, Severity: SeverityMedium, Retryable: false}
	}

	kind := classifyKind(err)
	severity := classifySeverity(err, kind)
	retryable := retryableKinds[kind] && severity != SeverityCritical

	return ErrorClassification{Kind: kind, Severity: severity, Retryable: retryable}
}

func classifyKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, ErrCircuitOpen) {
		return KindCircuitOpen
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		switch status := sc.StatusCode(); {
		case status == 401 || status == 403:
			return KindAuthentication
		case status == 429:
			return KindRateLimit
		case status >= 500 && status < 600:
			return KindServerError
		case status >= 400 && status < 500:
			return KindClientError
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, criticalPhrases):
		return KindAuthentication
	case containsAny(msg, []string{"rate limit", "too many requests", "429"}):
		return KindRateLimit
	case containsAny(msg, []string{"quota", "billing", "insufficient credit"}):
		return KindQuota
	case containsAny(msg, []string{"timeout", "deadline exceeded", "context deadline"}):
		return KindTimeout
	case containsAny(msg, []string{"connection refused", "connection reset", "no such host", "eof", "broken pipe"}):
		return KindConnection
	case containsAny(msg, []string{"internal server error", "bad gateway", "service unavailable", "502", "503", "504"}):
		return KindServerError
	case containsAny(msg, []string{"bad request", "invalid request", "400"}):
		return KindClientError
	default:
		return KindUnknown
	}
}

func classifySeverity(err error, kind ErrorKind) Severity {
	msg := strings.ToLower(err.Error())

	switch kind {
	case KindAuthentication:
		return SeverityCritical
	case KindQuota:
		if containsAny(msg, []string{"permanently", "account suspended", "terminated"}) {
			return SeverityCritical
		}
		return SeverityMedium
	}

	if sev, ok := severityByKind[kind]; ok {
		return sev
	}
	return SeverityMedium
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
