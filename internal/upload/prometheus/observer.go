// Package prometheus exports upload metrics.
package prometheus

import (
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"

	"relecloud/internal/upload"
)

// Observer records PutObject latency, failures and bytes per upload shape.
type Observer struct {
	putDuration *promclient.HistogramVec
	putErrors   *promclient.CounterVec
	bytes       promclient.Counter
}

// NewObserver registers the upload metrics on reg (the default registerer
// when nil). Registering twice reuses the existing collectors.
func NewObserver(namespace string, reg promclient.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "relecloud_upload"
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	var err error
	o := &Observer{}
	o.putDuration, err = register(reg, promclient.NewHistogramVec(promclient.HistogramOpts{
		Namespace: namespace,
		Name:      "put_duration_seconds",
		Help:      "Latency of object store puts by upload shape.",
		Buckets:   promclient.DefBuckets,
	}, []string{"shape"}))
	if err != nil {
		return nil, fmt.Errorf("register put histogram: %w", err)
	}
	o.putErrors, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "put_errors_total",
		Help:      "Failed object store puts by upload shape.",
	}, []string{"shape"}))
	if err != nil {
		return nil, fmt.Errorf("register put errors counter: %w", err)
	}
	o.bytes, err = register(reg, promclient.NewCounter(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Bytes successfully written to the object store.",
	}))
	if err != nil {
		return nil, fmt.Errorf("register uploaded bytes counter: %w", err)
	}
	return o, nil
}

func (o *Observer) RecordPut(shape upload.Shape, d time.Duration, n int64, err error) {
	if o == nil {
		return
	}
	o.putDuration.WithLabelValues(string(shape)).Observe(d.Seconds())
	if err != nil {
		o.putErrors.WithLabelValues(string(shape)).Inc()
		return
	}
	o.bytes.Add(float64(n))
}

func register[C promclient.Collector](reg promclient.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are promclient.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

var _ upload.Observer = (*Observer)(nil)
