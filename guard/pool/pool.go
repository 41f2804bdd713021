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

// Package pool implements the bounded-concurrency request pool every
// backend call and subagent submission passes through (spec.md §4.5).
// Priority is an admission order only — once a unit of work is
// running it is never preempted or cancelled by the pool.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"inference-gateway/shared/metrics"
)

// Priority is the admission-ordering tier a caller requests.
type Priority int

const (
	Normal Priority = iota
	High
)

// Metrics is a snapshot of the pool's current counters.
type Metrics struct {
	Active           int
	PeakConcurrency  int
	QueuedNormal     int
	QueuedHigh       int
	ThroughputPerSec float64
	AvgQueueWait     time.Duration
}

type job struct {
	run       func(context.Context) (any, error)
	done      chan result
	ctx       context.Context
	queuedAt  time.Time
}

type result struct {
	val any
	err error
}

// Pool bounds concurrent execution to max slots, draining the high
// priority FIFO before the normal FIFO whenever a slot frees up.
type Pool struct {
	max int

	mu     sync.Mutex
	active int
	peak   int
	high   *list.List
	normal *list.List

	buckets   map[int64]*bucket
	bucketsMu sync.Mutex
	retention time.Duration

	waitMu     sync.Mutex
	waitSum    time.Duration
	waitCount  int64

	metrics *metrics.Registry
}

type bucket struct {
	count int
}

// New builds a Pool with max concurrently-running jobs. m may be nil,
// in which case no metrics are recorded.
func New(max int, m *metrics.Registry) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{
		max:       max,
		high:      list.New(),
		normal:    list.New(),
		buckets:   make(map[int64]*bucket),
		retention: 10 * time.Second,
		metrics:   m,
	}
}

// Submit runs fn, either immediately (if active < max) or after
// queueing per priority. It blocks until fn has run (or ctx is
// cancelled while still queued) and returns fn's result.
func (p *Pool) Submit(ctx context.Context, priority Priority, fn func(context.Context) (any, error)) (any, error) {
	j := &job{run: fn, done: make(chan result, 1), ctx: ctx}

	p.mu.Lock()
	if p.active < p.max {
		p.active++
		if p.active > p.peak {
			p.peak = p.active
		}
		p.recordActive(p.active)
		p.mu.Unlock()
		p.recordWait(0)
		p.runJob(ctx, j)
		r := <-j.done
		return r.val, r.err
	}

	j.queuedAt = time.Now()
	var elem *list.Element
	if priority == High {
		elem = p.high.PushBack(j)
	} else {
		elem = p.normal.PushBack(j)
	}
	p.mu.Unlock()

	select {
	case r := <-j.done:
		return r.val, r.err
	case <-ctx.Done():
		p.mu.Lock()
		if priority == High {
			p.high.Remove(elem)
		} else {
			p.normal.Remove(elem)
		}
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (p *Pool) runJob(ctx context.Context, j *job) {
	go func() {
		start := time.Now()
		val, err := j.run(ctx)
		p.recordCompletion(start)
		j.done <- result{val: val, err: err}
		p.release()
	}()
}

func (p *Pool) release() {
	p.mu.Lock()
	var next *job
	if e := p.high.Front(); e != nil {
		next = p.high.Remove(e).(*job)
	} else if e := p.normal.Front(); e != nil {
		next = p.normal.Remove(e).(*job)
	} else {
		p.active--
		p.recordActive(p.active)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.recordWait(time.Since(next.queuedAt))
	p.runJob(next.ctx, next)
}

func (p *Pool) recordActive(n int) {
	if p.metrics != nil {
		p.metrics.PoolActive.Set(float64(n))
	}
}

func (p *Pool) recordWait(d time.Duration) {
	p.waitMu.Lock()
	p.waitSum += d
	p.waitCount++
	p.waitMu.Unlock()
	if p.metrics != nil {
		p.metrics.PoolQueueWait.Observe(d.Seconds())
	}
}

func (p *Pool) recordCompletion(start time.Time) {
	p.bucketsMu.Lock()
	defer p.bucketsMu.Unlock()
	sec := time.Now().Unix()
	b, ok := p.buckets[sec]
	if !ok {
		b = &bucket{}
		p.buckets[sec] = b
	}
	b.count++
	p.pruneBuckets(sec)
	if p.metrics != nil {
		var sum, n float64
		for _, bk := range p.buckets {
			sum += float64(bk.count)
			n++
		}
		if n > 0 {
			p.metrics.PoolThroughput.Set(sum / n)
		}
	}
}

func (p *Pool) pruneBuckets(now int64) {
	cutoff := now - int64(p.retention/time.Second)
	for ts := range p.buckets {
		if ts < cutoff {
			delete(p.buckets, ts)
		}
	}
}

// Metrics returns a snapshot: active/peak concurrency, queue depths,
// and pool-wide throughput-per-second (the mean of the non-empty
// 1-second buckets within the 10-second retention window).
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	active := p.active
	peak := p.peak
	qh := p.high.Len()
	qn := p.normal.Len()
	p.mu.Unlock()

	p.bucketsMu.Lock()
	now := time.Now().Unix()
	p.pruneBuckets(now)
	var sum, n float64
	for _, b := range p.buckets {
		sum += float64(b.count)
		n++
	}
	p.bucketsMu.Unlock()

	var throughput float64
	if n > 0 {
		throughput = sum / n
	}

	p.waitMu.Lock()
	var avgWait time.Duration
	if p.waitCount > 0 {
		avgWait = p.waitSum / time.Duration(p.waitCount)
	}
	p.waitMu.Unlock()

	return Metrics{
		Active:           active,
		PeakConcurrency:  peak,
		QueuedNormal:     qn,
		QueuedHigh:       qh,
		ThroughputPerSec: throughput,
		AvgQueueWait:     avgWait,
	}
}
