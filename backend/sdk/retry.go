// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
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
	"math/rand"
	"time"
)

// BackoffConfig configures RetryWithBackoff.
type BackoffConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64
	RetryIf        func(err error) bool
}

// DefaultBackoffConfig is used by an adapter's own internal retries
// (e.g. a transient DNS failure during local endpoint discovery) —
// distinct from the router's fallback-to-a-different-backend retry,
// which never reuses this package.
func DefaultBackoffConfig(retryIf func(error) bool) BackoffConfig {
	return BackoffConfig{
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryIf:        retryIf,
	}
}

// RetryWithBackoff executes fn with exponential backoff, retrying
// while cfg.RetryIf(err) is true (or unconditionally if nil) up to
// cfg.MaxRetries additional attempts.
func RetryWithBackoff[T any](ctx context.Context, cfg BackoffConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return zero, err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		backoff := cfg.InitialBackoff * time.Duration(pow(cfg.BackoffFactor, float64(attempt)))
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
		if cfg.Jitter > 0 {
			delta := float64(backoff) * cfg.Jitter
			backoff = time.Duration(float64(backoff) + (rand.Float64()*2*delta - delta))
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return zero, lastErr
}

func pow(base, exp float64) float64 {
	result := 1.0
	for exp > 0 {
		if int(exp)%2 == 1 {
			result *= base
		}
		exp = float64(int(exp) / 2)
		base *= base
	}
	return result
}
