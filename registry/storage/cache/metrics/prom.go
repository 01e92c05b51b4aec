// Package metrics wraps a cache provider with a latency timer.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/docker/go-metrics"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	prometheus "github.com/rockslide/rockslide/metrics"
	"github.com/rockslide/rockslide/registry/storage/cache"
)

type prometheusCacheProvider struct {
	cache.BlobDescriptorCacheProvider
	latencyTimer metrics.LabeledTimer
}

var (
	timersMu sync.Mutex
	timers   = make(map[string]metrics.LabeledTimer)
)

// NewPrometheusCacheProvider times every Stat and SetDescriptor call on
// wrap under the storage namespace metric called name. Providers created
// with the same name share one timer.
func NewPrometheusCacheProvider(wrap cache.BlobDescriptorCacheProvider, name, help string) cache.BlobDescriptorCacheProvider {
	timersMu.Lock()
	timer, ok := timers[name]
	if !ok {
		timer = prometheus.StorageNamespace.NewLabeledTimer(name, help, "operation")
		timers[name] = timer
	}
	timersMu.Unlock()

	return &prometheusCacheProvider{wrap, timer}
}

func (p *prometheusCacheProvider) Stat(ctx context.Context, dgst digest.Digest) (rockslide.BlobMetadata, error) {
	start := time.Now()
	d, e := p.BlobDescriptorCacheProvider.Stat(ctx, dgst)
	p.latencyTimer.WithValues("Stat").UpdateSince(start)
	return d, e
}

func (p *prometheusCacheProvider) SetDescriptor(ctx context.Context, dgst digest.Digest, desc rockslide.BlobMetadata) error {
	start := time.Now()
	e := p.BlobDescriptorCacheProvider.SetDescriptor(ctx, dgst, desc)
	p.latencyTimer.WithValues("SetDescriptor").UpdateSince(start)
	return e
}
