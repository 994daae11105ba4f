// Copyright 2025 AxonFlow
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

package sdk

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// PrincipalRateLimiter keeps one token bucket per principal so a single
// caller cannot exhaust an upstream quota shared by everyone.
type PrincipalRateLimiter struct {
	defaultRate  rate.Limit
	defaultBurst int
	limiters     map[string]*rate.Limiter
	overrides    map[string]*rate.Limiter
	mu           sync.RWMutex
}

// NewPrincipalRateLimiter creates a limiter allowing perSecond requests with
// the given burst for each principal.
func NewPrincipalRateLimiter(perSecond float64, burst int) *PrincipalRateLimiter {
	return &PrincipalRateLimiter{
		defaultRate:  rate.Limit(perSecond),
		defaultBurst: burst,
		limiters:     make(map[string]*rate.Limiter),
		overrides:    make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the principal may proceed or ctx is done
func (m *PrincipalRateLimiter) Wait(ctx context.Context, principal string) error {
	return m.limiter(principal).Wait(ctx)
}

// TryAcquire reports whether the principal may proceed without waiting
func (m *PrincipalRateLimiter) TryAcquire(principal string) bool {
	return m.limiter(principal).Allow()
}

// SetPrincipalLimit overrides the limit for one principal
func (m *PrincipalRateLimiter) SetPrincipalLimit(principal string, perSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[principal] = rate.NewLimiter(rate.Limit(perSecond), burst)
	delete(m.limiters, principal)
}

// Remove drops any state held for the principal
func (m *PrincipalRateLimiter) Remove(principal string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.limiters, principal)
	delete(m.overrides, principal)
}

func (m *PrincipalRateLimiter) limiter(principal string) *rate.Limiter {
	m.mu.RLock()
	if l, ok := m.overrides[principal]; ok {
		m.mu.RUnlock()
		return l
	}
	if l, ok := m.limiters[principal]; ok {
		m.mu.RUnlock()
		return l
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[principal]; ok {
		return l
	}
	l := rate.NewLimiter(m.defaultRate, m.defaultBurst)
	m.limiters[principal] = l
	return l
}
