package channel

import (
	"context"
	"sync"
	"time"

	"optionflow/logger"
	"optionflow/models"
)

// Stats counts traffic through the pipeline channels.
type Stats struct {
	TicksSent    int64
	TicksDropped int64
}

// Channels owns the buffered channel between the feed and the
// aggregator. Publishing never blocks: when the buffer is full the
// tick is dropped and counted so the feed reader stays responsive.
type Channels struct {
	Ticks chan models.Tick

	stats               Stats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
	closeOnce           sync.Once
}

func NewChannels(tickBufferSize int) *Channels {
	log := logger.GetLogger()

	c := &Channels{
		Ticks: make(chan models.Tick, tickBufferSize),
		log:   log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"tick_buffer_size": tickBufferSize,
	}).Info("channels initialized")

	return c
}

// PublishTick enqueues a tick without blocking. It returns false when
// the buffer was full and the tick was dropped.
func (c *Channels) PublishTick(tick models.Tick) bool {
	select {
	case c.Ticks <- tick:
		c.statsMutex.Lock()
		c.stats.TicksSent++
		c.statsMutex.Unlock()
		return true
	default:
		c.statsMutex.Lock()
		c.stats.TicksDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	c.statsMutex.RLock()
	stats := c.stats
	c.statsMutex.RUnlock()

	c.log.WithComponent("channels").WithFields(logger.Fields{
		"ticks_sent":       stats.TicksSent,
		"ticks_dropped":    stats.TicksDropped,
		"tick_channel_len": len(c.Ticks),
		"tick_channel_cap": cap(c.Ticks),
	}).Info("channel statistics")
}

func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		if c.metricsReportTicker != nil {
			c.metricsReportTicker.Stop()
		}
		close(c.Ticks)
		c.log.WithComponent("channels").Info("all channels closed")
	})
}

func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
