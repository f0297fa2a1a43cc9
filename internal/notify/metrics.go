package notify

import (
	"sort"
	"sync"
	"time"
)

type ChannelMetrics struct {
	Channel       Channel `json:"channel"`
	Sent          int64   `json:"sent"`
	Failed        int64   `json:"failed"`
	AverageMillis float64 `json:"average_millis"`
}

// Metrics counts deliveries per channel.
type Metrics struct {
	mu       sync.Mutex
	channels map[Channel]*channelCounter
}

type channelCounter struct {
	sent    int64
	failed  int64
	elapsed time.Duration
}

func NewMetrics() *Metrics {
	return &Metrics{channels: make(map[Channel]*channelCounter)}
}

func (m *Metrics) record(channel Channel, elapsed time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.channels[channel]
	if !ok {
		c = &channelCounter{}
		m.channels[channel] = c
	}
	if err != nil {
		c.failed++
	} else {
		c.sent++
	}
	c.elapsed += elapsed
}

// Snapshot returns the counters ordered by channel name.
func (m *Metrics) Snapshot() []ChannelMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ChannelMetrics, 0, len(m.channels))
	for channel, c := range m.channels {
		cm := ChannelMetrics{Channel: channel, Sent: c.sent, Failed: c.failed}
		if total := c.sent + c.failed; total > 0 {
			cm.AverageMillis = float64(c.elapsed.Milliseconds()) / float64(total)
		}
		out = append(out, cm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}
