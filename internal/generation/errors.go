package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fedutinova/shopgen/internal/common"
)

// VendorError is a classified failure from a vendor call.
type VendorError struct {
	Vendor     string
	Kind       common.Kind
	StatusCode int
	Body       string
	Err        error
}

func (e *VendorError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status %d): %s", e.Vendor, e.Kind, e.StatusCode, truncate(e.Body, 512))
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Vendor, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Vendor, e.Kind, truncate(e.Body, 512))
	}
}

func (e *VendorError) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel of the error's Kind.
func (e *VendorError) Is(target error) bool {
	switch e.Kind {
	case common.KindVendorRejected:
		return target == common.ErrVendorRejected
	case common.KindVendorTransient:
		return target == common.ErrVendorTransient
	case common.KindVendorGenerationFailed:
		return target == common.ErrVendorGenerationFailed
	}
	return false
}

// FromStatus classifies a non-2xx vendor response. 429 and 5xx are
// transient, every other 4xx is a rejection.
func FromStatus(vendor string, status int, body []byte) *VendorError {
	kind := common.KindVendorRejected
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		kind = common.KindVendorTransient
	}
	return &VendorError{Vendor: vendor, Kind: kind, StatusCode: status, Body: string(body)}
}

// FromTransport wraps a network error. Context errors pass through so the
// caller can tell cancellation from a vendor outage.
func FromTransport(vendor string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &VendorError{Vendor: vendor, Kind: common.KindVendorTransient, Err: err}
}

// GenerationFailed reports a vendor that accepted the request but produced
// nothing usable.
func GenerationFailed(vendor, reason string) *VendorError {
	return &VendorError{Vendor: vendor, Kind: common.KindVendorGenerationFailed, Body: reason}
}

// PayloadOf returns the raw vendor body carried by err, if any.
func PayloadOf(err error) string {
	var ve *VendorError
	if errors.As(err, &ve) {
		return truncate(ve.Body, 2048)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
