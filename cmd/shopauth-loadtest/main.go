// Command shopauth-loadtest stands up a full auth stack (miniredis, engine,
// httpapi) on a loopback listener and hammers it through the client gateway.
//
// The access TTL is deliberately short so the run exercises the 401 → refresh
// → replay path under real concurrency, not just happy-path validation.
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	shopauth "github.com/MrEthical07/shopauth"
	authclient "github.com/MrEthical07/shopauth/client"
	"github.com/MrEthical07/shopauth/httpapi"
	"github.com/MrEthical07/shopauth/password"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		accounts    = flag.Int("accounts", 50, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "guarded requests to issue")
		accessTTL   = flag.Duration("access-ttl", 2*time.Second, "access token TTL (short forces refresh cycles)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     *redis.Client
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := shopauth.DefaultConfig()
	cfg.JWT.AccessTTL = *accessTTL
	cfg.JWT.Leeway = 0
	cfg.Cookie.Secure = false
	cfg.Security.EnableRefreshThrottle = false

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "argon2 init: %v\n", err)
		os.Exit(1)
	}
	seedHash, err := hasher.Hash("load-test-password")
	if err != nil {
		fmt.Fprintf(os.Stderr, "argon2 hash: %v\n", err)
		os.Exit(1)
	}

	provider := newSeedProvider()
	for i := 0; i < *accounts; i++ {
		provider.put(shopauth.UserRecord{
			UserID:       fmt.Sprintf("user-%d", i),
			Identifier:   fmt.Sprintf("shopper-%d@example.com", i),
			PasswordHash: seedHash,
			Role:         "customer",
		})
	}

	engine, err := shopauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(provider).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}
	server := &http.Server{Handler: httpapi.NewHandler(engine).Routes()}
	go func() { _ = server.Serve(ln) }()
	defer server.Close()
	baseURL := "http://" + ln.Addr().String()
	fmt.Printf("auth server at %s\n", baseURL)

	fmt.Printf("logging in %d accounts...\n", *accounts)
	startLogin := time.Now()
	clients := make([]*authclient.Client, *accounts)
	for i := range clients {
		c, err := authclient.New(baseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "client: %v\n", err)
			os.Exit(1)
		}
		if _, err := c.Login(ctx, fmt.Sprintf("shopper-%d@example.com", i), "load-test-password"); err != nil {
			fmt.Fprintf(os.Stderr, "login: %v\n", err)
			os.Exit(1)
		}
		clients[i] = c
	}
	fmt.Printf("logged in after %s\n", time.Since(startLogin).Round(time.Millisecond))

	stats := runGuardedPhase(ctx, clients, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("guarded", stats)

	snapshot := engine.MetricsSnapshot()
	fmt.Printf("refreshes=%d refresh_failures=%d reuse_detected=%d\n",
		snapshot.Counters[shopauth.MetricRefreshSuccess],
		snapshot.Counters[shopauth.MetricRefreshFailure],
		snapshot.Counters[shopauth.MetricRefreshReuseDetected],
	)
}

func runGuardedPhase(ctx context.Context, clients []*authclient.Client, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				c := clients[r.Intn(len(clients))]
				t0 := time.Now()
				_, err := c.CurrentUser(ctx)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

type seedProvider struct {
	mu      sync.RWMutex
	byID    map[string]shopauth.UserRecord
	byIdent map[string]string
}

func newSeedProvider() *seedProvider {
	return &seedProvider{
		byID:    make(map[string]shopauth.UserRecord),
		byIdent: make(map[string]string),
	}
}

func (p *seedProvider) put(u shopauth.UserRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[u.UserID] = u
	p.byIdent[u.Identifier] = u.UserID
}

func (p *seedProvider) GetUserByIdentifier(_ context.Context, identifier string) (shopauth.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byIdent[identifier]
	if !ok {
		return shopauth.UserRecord{}, fmt.Errorf("user not found")
	}
	return p.byID[id], nil
}

func (p *seedProvider) GetUserByID(_ context.Context, userID string) (shopauth.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.byID[userID]
	if !ok {
		return shopauth.UserRecord{}, fmt.Errorf("user not found")
	}
	return u, nil
}

func (p *seedProvider) CreateUser(_ context.Context, input shopauth.CreateUserInput) (shopauth.UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byIdent[input.Identifier]; exists {
		return shopauth.UserRecord{}, shopauth.ErrProviderDuplicateIdentifier
	}
	u := shopauth.UserRecord{
		UserID:       input.UserID,
		Identifier:   input.Identifier,
		Name:         input.Name,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
	}
	p.byID[u.UserID] = u
	p.byIdent[u.Identifier] = u.UserID
	return u, nil
}
