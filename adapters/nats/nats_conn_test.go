package nats_test

import (
	"errors"
	"testing"
	"time"

	"github.com/next-trace/scg-api-bus/adapters/nats"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

func TestNewWithNATS_EmptyURL(t *testing.T) {
	_, _, err := nats.NewWithNATS(nats.Config{}, nil)
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}
}

func TestNewWithNATS_Unreachable(t *testing.T) {
	_, _, err := nats.NewWithNATS(nats.Config{URL: "nats://127.0.0.1:1", ConnTimeout: 200 * time.Millisecond}, nil)
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}
}
