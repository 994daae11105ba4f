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
	"testing"
	"time"
)

func TestPrincipalRateLimiter(t *testing.T) {
	t.Run("buckets are per principal", func(t *testing.T) {
		rl := NewPrincipalRateLimiter(0.001, 2)

		if !rl.TryAcquire("alice") || !rl.TryAcquire("alice") {
			t.Fatal("burst should allow two calls")
		}
		if rl.TryAcquire("alice") {
			t.Error("third call should be rejected")
		}
		if !rl.TryAcquire("bob") {
			t.Error("bob has his own bucket")
		}
	})

	t.Run("override", func(t *testing.T) {
		rl := NewPrincipalRateLimiter(0.001, 1)
		rl.SetPrincipalLimit("svc", 1000, 10)

		for i := 0; i < 10; i++ {
			if !rl.TryAcquire("svc") {
				t.Fatalf("call %d rejected under override", i)
			}
		}
	})

	t.Run("remove resets state", func(t *testing.T) {
		rl := NewPrincipalRateLimiter(0.001, 1)
		rl.TryAcquire("alice")
		rl.Remove("alice")
		if !rl.TryAcquire("alice") {
			t.Error("fresh bucket expected after Remove")
		}
	})

	t.Run("wait honors context", func(t *testing.T) {
		rl := NewPrincipalRateLimiter(0.001, 1)
		_ = rl.Wait(context.Background(), "alice")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := rl.Wait(ctx, "alice"); err == nil {
			t.Error("expected wait to fail")
		}
	})
}
