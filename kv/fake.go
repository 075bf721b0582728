package kv

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// FakeClient is an in-process Client used by dispatcher/queue/eviction
// tests so they don't need a live Redis instance.
type FakeClient struct {
	mu      sync.Mutex
	strings map[string]string
	zsets   map[string]map[string]float64
	subs    map[string][]*fakeSubscription
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		strings: map[string]string{},
		zsets:   map[string]map[string]float64{},
		subs:    map[string][]*fakeSubscription{},
	}
}

func (c *FakeClient) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.strings[key]
	return v, ok, nil
}

func (c *FakeClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strings[key] = value
	if ttl > 0 {
		go func() {
			time.Sleep(ttl)
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.strings[key] == value {
				delete(c.strings, key)
			}
		}()
	}
	return nil
}

func (c *FakeClient) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.strings, k)
		delete(c.zsets, k)
	}
	return nil
}

func (c *FakeClient) Incr(ctx context.Context, key string, by int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var cur int64
	if v, ok := c.strings[key]; ok {
		cur, _ = strconv.ParseInt(v, 10, 64)
	}
	cur += by
	c.strings[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (c *FakeClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.zsets[key] == nil {
		c.zsets[key] = map[string]float64{}
	}
	c.zsets[key][member] = score
	return nil
}

func (c *FakeClient) ZRem(ctx context.Context, key string, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.zsets[key], member)
	return nil
}

func (c *FakeClient) ZCard(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.zsets[key])), nil
}

func (c *FakeClient) sortedMembers(key string) []ScoredMember {
	set := c.zsets[key]
	out := make([]ScoredMember, 0, len(set))
	for m, s := range set {
		out = append(out, ScoredMember{Member: m, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Member < out[j].Member
		}
		return out[i].Score < out[j].Score
	})
	return out
}

func (c *FakeClient) ZRank(ctx context.Context, key string, member string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sm := range c.sortedMembers(key) {
		if sm.Member == member {
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

func (c *FakeClient) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	members := c.sortedMembers(key)
	lo, hi := normalizeRange(start, stop, len(members))
	out := make([]string, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, members[i].Member)
	}
	return out, nil
}

func (c *FakeClient) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]ScoredMember, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ScoredMember
	for _, sm := range c.sortedMembers(key) {
		if sm.Score >= min && sm.Score <= max {
			out = append(out, sm)
		}
	}
	return out, nil
}

func (c *FakeClient) Publish(ctx context.Context, channel, payload string) error {
	c.mu.Lock()
	subs := append([]*fakeSubscription{}, c.subs[channel]...)
	c.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

func (c *FakeClient) Subscribe(ctx context.Context, channel string) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeSubscription{
		ch: make(chan string, 4),
		unsubscribe: func(sub *fakeSubscription) {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := c.subs[channel]
			for i, v := range subs {
				if v == sub {
					c.subs[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		},
	}
	c.subs[channel] = append(c.subs[channel], s)
	return s
}

func (c *FakeClient) Ping(ctx context.Context) error { return nil }
func (c *FakeClient) Close() error                   { return nil }

type fakeSubscription struct {
	ch          chan string
	unsubscribe func(*fakeSubscription)
	closeOnce   sync.Once
}

func (s *fakeSubscription) WaitForMessage(ctx context.Context, timeout time.Duration) (string, bool, error) {
	select {
	case payload := <-s.ch:
		return payload, true, nil
	case <-time.After(timeout):
		return "", false, nil
	case <-ctx.Done():
		return "", false, nil
	}
}

func (s *fakeSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.unsubscribe(s)
	})
	return nil
}

func normalizeRange(start, stop int64, length int) (int, int) {
	if length == 0 {
		return 0, 0
	}
	lo := int(start)
	hi := int(stop)
	if lo < 0 {
		lo += length
	}
	if hi < 0 {
		hi += length
	}
	if lo < 0 {
		lo = 0
	}
	if hi >= length {
		hi = length - 1
	}
	if lo > hi || lo >= length {
		return 0, 0
	}
	return lo, hi + 1
}
