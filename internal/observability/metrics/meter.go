// Copyright 2026 The Bastion Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Config holds metrics configuration
type Config struct {
	Enabled     bool
	ServiceName string
}

// Meter wraps an OpenTelemetry meter and the admin instruments built on it
type Meter struct {
	meter          metric.Meter
	logins         metric.Int64Counter
	impersonations metric.Int64UpDownCounter
	denials        metric.Int64Counter
}

// New creates a new meter instance. A disabled config yields no-op instruments.
func New(cfg Config) (*Meter, error) {
	var meter metric.Meter
	if cfg.Enabled {
		// The global provider is configured by the process entrypoint.
		meter = otel.Meter(cfg.ServiceName)
	} else {
		meter = noop.NewMeterProvider().Meter(cfg.ServiceName)
	}

	m := &Meter{meter: meter}
	var errs []error
	var err error
	if m.logins, err = m.CreateCounter("bastion.auth.logins", "Login attempts by result"); err != nil {
		errs = append(errs, err)
	}
	if m.impersonations, err = m.CreateUpDownCounter("bastion.impersonation.active", "Impersonation sessions started minus left"); err != nil {
		errs = append(errs, err)
	}
	if m.denials, err = m.CreateCounter("bastion.http.denied", "Requests refused for a missing permission"); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateUpDownCounter creates a new up/down counter metric
func (m *Meter) CreateUpDownCounter(name, description string) (metric.Int64UpDownCounter, error) {
	counter, err := m.meter.Int64UpDownCounter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create up/down counter %s: %w", name, err)
	}
	return counter, nil
}

// Login counts a login attempt
func (m *Meter) Login(ctx context.Context, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// ImpersonationStarted counts a started impersonation
func (m *Meter) ImpersonationStarted(ctx context.Context) {
	m.impersonations.Add(ctx, 1)
}

// ImpersonationLeft counts a finished impersonation
func (m *Meter) ImpersonationLeft(ctx context.Context) {
	m.impersonations.Add(ctx, -1)
}

// Denied counts a refused request
func (m *Meter) Denied(ctx context.Context, permission string) {
	m.denials.Add(ctx, 1, metric.WithAttributes(attribute.String("permission", permission)))
}
