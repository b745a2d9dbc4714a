package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gqlAuth "github.com/MrEthical07/gqlAuth"
	"github.com/MrEthical07/gqlAuth/internal/testissuer"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const loadIssuer = "https://issuer.loadtest"

func main() {
	var (
		tokens      = flag.Int("tokens", 10000, "number of distinct tokens to mint")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (verify + authorize)")
		alg         = flag.String("alg", "RS256", "signing algorithm")
		denyRatio   = flag.Int("deny-percent", 10, "percentage of tokens lacking the admin role")
		shared      = flag.Bool("shared-cache", false, "cache the key set in redis")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *tokens <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "tokens, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	iss, err := testissuer.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start issuer: %v\n", err)
		os.Exit(1)
	}
	defer iss.Close()

	cfg := gqlAuth.DefaultConfig()
	cfg.Issuer = loadIssuer
	cfg.Audience = []string{"loadtest"}
	if strings.HasPrefix(*alg, "HS") {
		// Shared secrets are never published in the JWKS document.
		cfg.JWKS.StaticKeys = iss.StaticKeys()
	} else {
		cfg.JWKS.URL = iss.JWKSURL()
	}
	cfg.AllowedAlgorithms = []string{*alg}
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	builder := gqlAuth.New()
	if *shared && cfg.JWKS.URL != "" {
		client, cleanup, err := openRedis(*redisAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		cfg.JWKS.SharedCache.Enabled = true
		builder = builder.WithRedis(client)
	}

	ext, err := builder.WithConfig(cfg).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer ext.Close()

	fmt.Printf("minting %d %s tokens...\n", *tokens, *alg)
	startMint := time.Now()
	raws := make([]string, *tokens)
	now := time.Now()
	for i := range raws {
		role := "admin"
		if i%100 < *denyRatio {
			role = "user"
		}
		raws[i], err = iss.Sign(*alg, map[string]any{
			"iss":  loadIssuer,
			"aud":  "loadtest",
			"sub":  fmt.Sprintf("user-%d", i),
			"role": role,
			"iat":  now.Unix(),
			"exp":  now.Add(time.Hour).Unix(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "sign failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("minted in %s\n", time.Since(startMint).Round(time.Millisecond))

	if err := ext.Warm(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warm failed: %v\n", err)
		os.Exit(1)
	}

	field := gqlAuth.FieldDefinition{
		TypeName:  "Query",
		FieldName: "adminReport",
		Directive: &gqlAuth.Directive{
			Name: "auth",
			Args: map[string]any{
				"claims": []any{map[string]any{"path": "role", "equals": "admin"}},
			},
		},
	}

	verifyStats := runPhase(raws, *ops, *concurrency, func(raw string) bool {
		_, err := ext.Verify(ctx, raw)
		return err == nil
	})
	authorizeStats := runPhase(raws, *ops, *concurrency, func(raw string) bool {
		return ext.ResolveField(gqlAuth.WithBearerToken(ctx, raw), field).Allowed
	})

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("authorize", authorizeStats)
	fmt.Printf("jwks fetches: %d\n", iss.Hits())

	snap := ext.MetricsSnapshot()
	for _, id := range gqlAuth.MetricIDs() {
		if v := snap.Counters[id]; v > 0 {
			fmt.Printf("  %-28s %d\n", id, v)
		}
	}
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

// runPhase calls op ops times across concurrency workers. op reports whether
// the call was allowed.
func runPhase(raws []string, ops, concurrency int, op func(raw string) bool) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		denied    int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					break
				}
				raw := raws[r.Intn(len(raws))]
				t0 := time.Now()
				ok := op(raw)
				local = append(local, time.Since(t0))
				if !ok {
					atomic.AddInt64(&denied, 1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, denied)
}

type phaseStats struct {
	total   time.Duration
	ops     int
	denied  int64
	p50     time.Duration
	p95     time.Duration
	p99     time.Duration
	opsPerS float64
}

func computeStats(total time.Duration, samples []time.Duration, denied int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:   total,
		ops:     len(samples),
		denied:  denied,
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
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
	fmt.Printf("%s: ops=%d denied=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.denied,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
