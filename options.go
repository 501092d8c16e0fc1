// Copyright 2025 Edgeo SCADA
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

package modbus

import (
	"log/slog"
	"time"
)

// ServerOption is a functional option for configuring the server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger      *slog.Logger
	maxConns    int
	idleTimeout time.Duration
	readBuffer  int
	metrics     *ServerMetrics
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:      slog.Default(),
		maxConns:    100,
		idleTimeout: DefaultIdleTimeout,
		readBuffer:  1024,
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithMaxConnections sets the maximum number of concurrent connections.
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConns = n
	}
}

// WithIdleTimeout sets how long a connection may go without sending a
// byte before it is closed. Zero disables the timeout.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.idleTimeout = d
	}
}

// WithReadBufferSize sets the size of the per-connection read chunk.
func WithReadBufferSize(n int) ServerOption {
	return func(o *serverOptions) {
		if n > 0 {
			o.readBuffer = n
		}
	}
}

// WithMetrics makes the server record into m instead of a private
// ServerMetrics, so several servers can share one exporter.
func WithMetrics(m *ServerMetrics) ServerOption {
	return func(o *serverOptions) {
		o.metrics = m
	}
}
