// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"context"
	"errors"

	"github.com/yeetrun/trow/pkg/backendrpc"
)

const connectFailedMessage = "failed to connect to registry backend"

// probeMessage describes a failed probe call.
func probeMessage(err error) string {
	var te *backendrpc.TransportError
	if errors.As(err, &te) || errors.Is(err, backendrpc.ErrClientClosed) {
		return connectFailedMessage
	}
	var rpcErr *backendrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Message
	}
	return err.Error()
}

// IsHealthy probes the backend. It never fails; an unreachable or unhealthy
// backend is reported in the returned status.
func (c *Client) IsHealthy(ctx context.Context) HealthStatus {
	c.log.Debug("calling health check")
	var resp backendrpc.HealthStatus
	if err := c.rpc.Call(ctx, backendrpc.MethodIsHealthy, backendrpc.HealthRequest{}, &resp); err != nil {
		return HealthStatus{IsHealthy: false, Message: probeMessage(err)}
	}
	return HealthStatus{IsHealthy: true, Message: resp.Message}
}

// IsReady probes the backend's readiness. Like IsHealthy it never fails.
func (c *Client) IsReady(ctx context.Context) ReadinessStatus {
	c.log.Debug("calling readiness check")
	var resp backendrpc.ReadyStatus
	if err := c.rpc.Call(ctx, backendrpc.MethodIsReady, backendrpc.ReadinessRequest{}, &resp); err != nil {
		return ReadinessStatus{IsReady: false, Message: probeMessage(err)}
	}
	return ReadinessStatus{IsReady: true, Message: resp.Message}
}

func (c *Client) GetMetrics(ctx context.Context) (Metrics, error) {
	c.log.Debug("getting metrics")
	var resp backendrpc.MetricsResponse
	if err := c.rpc.Call(ctx, backendrpc.MethodGetMetrics, backendrpc.MetricsRequest{}, &resp); err != nil {
		c.log.Warn("error getting metrics", "err", err)
		return Metrics{}, newError(KindInternal, "get metrics", "", err)
	}
	return Metrics{Payload: resp.Metrics}, nil
}
