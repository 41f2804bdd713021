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

package ratelimit

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
)

// RedisWindowStore persists window counters in Redis so the truncated
// minute/day windows stay consistent across multiple gateway
// processes guarding the same provider quota. A process restart still
// resets nothing server-side — Redis just replaces the in-memory map,
// the rollover truncation logic is unchanged.
type RedisWindowStore struct {
	client *redis.Client
	ctx    context.Context
	prefix string
}

// NewRedisWindowStore wraps client. ctx bounds every Redis round trip
// this store makes; pass context.Background() for a long-lived store.
func NewRedisWindowStore(ctx context.Context, client *redis.Client, prefix string) *RedisWindowStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisWindowStore{client: client, ctx: ctx, prefix: prefix}
}

func (s *RedisWindowStore) Load(key string) (windowCounters, bool) {
	raw, err := s.client.Get(s.ctx, s.prefix+key).Bytes()
	if err != nil {
		return windowCounters{}, false
	}
	var c windowCounters
	if err := json.Unmarshal(raw, &c); err != nil {
		return windowCounters{}, false
	}
	return c, true
}

func (s *RedisWindowStore) Store(key string, c windowCounters) {
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	s.client.Set(s.ctx, s.prefix+key, raw, 0)
}
