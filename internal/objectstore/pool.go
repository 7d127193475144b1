// Package objectstore manages a bounded pool of S3 clients, one pool per
// AWS profile, so concurrent publish/commit work reuses connections instead
// of constructing a new client (and its underlying HTTP transport) per
// request. Pool shape -- a mutex-protected LIFO free list with idle
// eviction -- is grounded on oriys-nova/internal/pool's warm-VM pool,
// generalized down from a VM lifecycle manager to a plain client cache.
package objectstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultIdleTTL = 5 * time.Minute

type pooledClient struct {
	client   *s3.Client
	lastUsed time.Time
}

// profilePool holds the warm clients for one AWS profile.
type profilePool struct {
	mu      sync.Mutex
	clients []*pooledClient
}

// Pool hands out *s3.Client instances per AWS profile, building a new client
// whenever the profile has no idle one. size (spec.md §6's `s3_pool_size`)
// bounds how many idle clients each profile retains; it does not cap how
// many clients are handed out at once.
type Pool struct {
	size int

	mu    sync.Mutex
	pools map[string]*profilePool

	credsMu sync.Mutex
	creds   map[string]aws.CredentialsProvider

	idleTTL time.Duration
	done    chan struct{}
}

// NewPool constructs a Pool with per-profile capacity size, and starts a
// background goroutine evicting clients idle past idleTTL (0 uses
// defaultIdleTTL).
func NewPool(size int, idleTTL time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	p := &Pool{
		size:    size,
		pools:   make(map[string]*profilePool),
		creds:   make(map[string]aws.CredentialsProvider),
		idleTTL: idleTTL,
		done:    make(chan struct{}),
	}
	go p.evictLoop()
	return p
}

// SetStaticCredentials registers an explicit access key/secret pair for
// profile, bypassing the shared `~/.aws/credentials` file lookup. Deployments
// that inject credentials via environment-specific secrets rather than a
// named profile file (most container environments) use this instead of
// relying on `WithSharedConfigProfile`.
func (p *Pool) SetStaticCredentials(profile, accessKeyID, secretAccessKey string) {
	p.credsMu.Lock()
	defer p.credsMu.Unlock()
	p.creds[profile] = credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
}

// Acquire returns a client for profile, reusing a warm one if available or
// constructing a new one (up to the pool's size bound -- beyond the bound,
// callers still get a client, it's simply not retained on Release).
func (p *Pool) Acquire(ctx context.Context, profile string) (*s3.Client, error) {
	pp := p.profilePool(profile)

	pp.mu.Lock()
	if n := len(pp.clients); n > 0 {
		pc := pp.clients[n-1]
		pp.clients = pp.clients[:n-1]
		pp.mu.Unlock()
		return pc.client, nil
	}
	pp.mu.Unlock()

	p.credsMu.Lock()
	provider, hasStatic := p.creds[profile]
	p.credsMu.Unlock()

	var opts []func(*awsconfig.LoadOptions) error
	if hasStatic {
		opts = append(opts, awsconfig.WithCredentialsProvider(provider))
	} else {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config for profile %s: %w", profile, err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Release returns client to the profile's warm set, up to the pool's size
// bound; clients beyond the bound are dropped (and garbage collected).
func (p *Pool) Release(profile string, client *s3.Client) {
	pp := p.profilePool(profile)

	pp.mu.Lock()
	defer pp.mu.Unlock()
	if len(pp.clients) >= p.size {
		return
	}
	pp.clients = append(pp.clients, &pooledClient{client: client, lastUsed: time.Now()})
}

func (p *Pool) profilePool(profile string) *profilePool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pools[profile]
	if !ok {
		pp = &profilePool{}
		p.pools[profile] = pp
	}
	return pp
}

func (p *Pool) evictLoop() {
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evictIdle()
		case <-p.done:
			return
		}
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	pools := make([]*profilePool, 0, len(p.pools))
	for _, pp := range p.pools {
		pools = append(pools, pp)
	}
	p.mu.Unlock()

	cutoff := time.Now().Add(-p.idleTTL)
	for _, pp := range pools {
		pp.mu.Lock()
		kept := pp.clients[:0]
		for _, pc := range pp.clients {
			if pc.lastUsed.After(cutoff) {
				kept = append(kept, pc)
			}
		}
		pp.clients = kept
		pp.mu.Unlock()
	}
}

// Shutdown stops the eviction loop.
func (p *Pool) Shutdown() {
	close(p.done)
}
