package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/profilestore"
	"github.com/MrEthical07/goGate/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type device struct {
	limiter *goGate.LoginLimiter
	mu      sync.Mutex
}

func main() {
	var (
		profiles    = flag.Int("profiles", 100000, "number of profiles to seed")
		devices     = flag.Int("devices", 10000, "number of device-local limiters")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (profile read + limiter)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "gg:", "key prefix")
	)
	flag.Parse()

	if *profiles <= 0 || *devices <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "profiles, devices, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	ps := profilestore.NewRedis(client, *prefix)
	ids := make([]string, *profiles)
	fmt.Printf("seeding %d profiles...\n", *profiles)
	startSeed := time.Now()
	for i := range ids {
		ids[i] = fmt.Sprintf("subject-%d", i)
		p := buildProfile(ids[i])
		if err := ps.CreateProfile(ctx, &p); err != nil && !errors.Is(err, profilestore.ErrConflict) {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	limiterCfg := goGate.DefaultConfig().Limiter
	devs := make([]*device, *devices)
	for i := range devs {
		st := store.NewRedisStore(client, *prefix, fmt.Sprintf("device-%d", i))
		devs[i] = &device{limiter: goGate.NewLoginLimiter(st, limiterCfg, nil)}
	}

	readStats := runProfilePhase(ctx, ps, ids, *ops, *concurrency)
	limiterStats := runLimiterPhase(ctx, devs, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("profile-read", readStats)
	printStats("limiter", limiterStats)
}

func runProfilePhase(ctx context.Context, ps goGate.ProfileStore, ids []string, ops, concurrency int) phaseStats {
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
				t0 := time.Now()
				_, err := ps.GetProfile(ctx, ids[r.Intn(len(ids))])
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

// runLimiterPhase mixes lock checks, failures and resets. Locked devices
// are expected and not counted as failures.
func runLimiterPhase(ctx context.Context, devs []*device, ops, concurrency int) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				d := devs[r.Intn(len(devs))]

				d.mu.Lock()
				t0 := time.Now()
				err := d.limiter.Check(ctx)
				if errors.Is(err, goGate.ErrRateLimited) {
					err = nil
				} else if err == nil {
					if r.Intn(8) == 0 {
						err = d.limiter.RecordSuccess(ctx)
					} else {
						_, err = d.limiter.RecordFailure(ctx)
					}
				}
				elapsed := time.Since(t0)
				d.mu.Unlock()
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, elapsed)
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
	return samples[(len(samples)-1)*p/100]
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

func buildProfile(subjectID string) goGate.Profile {
	now := time.Now().UTC()
	return goGate.Profile{
		SubjectID:    subjectID,
		DisplayName:  subjectID,
		Role:         string(goGate.RoleStudent),
		Level:        1,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
