// Package main is the entrypoint for the load generator: it drives
// concurrent Get/Release cycles against a redis-backed pool and reports
// checkout outcomes.
package main

import (
	"context"
	"flag"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/asyncpool/managers/redismanager"
	"github.com/joao-brasil/asyncpool/pool"
	"github.com/joao-brasil/asyncpool/poolmetrics"
)

var (
	redisAddr         = flag.String("redis-addr", "127.0.0.1:6379", "Address of the Redis instance to pool connections to")
	poolName          = flag.String("pool-name", "loadgen", "Pool name checkouts are reported under in poolmetrics")
	totalOperations   = flag.Int("total-operations", 1000, "Total number of Get/Release cycles to run")
	concurrency       = flag.Int("concurrency", 20, "Number of goroutines issuing checkouts concurrently")
	maxSize           = flag.Int("max-size", 10, "Pool max_size")
	holdTime          = flag.Duration("hold-time", 5*time.Millisecond, "How long each checkout holds the connection before releasing")
	connectionTimeout = flag.Duration("connection-timeout", 5*time.Second, "Pool connection_timeout")
)

type result struct {
	ok      int64
	timeout int64
	errored int64
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("[loadgen] total_operations=%d concurrency=%d max_size=%d", *totalOperations, *concurrency, *maxSize)

	manager := redismanager.New(redismanager.Config{Addr: *redisAddr})
	p, err := pool.NewBuilder[*redismanager.Conn]().
		MaxSize(*maxSize).
		ConnectionTimeout(*connectionTimeout).
		Build(context.Background(), manager)
	if err != nil {
		log.Fatalf("[loadgen] failed to build pool: %v", err)
	}

	var res result
	var wg sync.WaitGroup
	ops := make(chan struct{}, *totalOperations)
	for i := 0; i < *totalOperations; i++ {
		ops <- struct{}{}
	}
	close(ops)

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range ops {
				runOne(p, &res)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	log.Printf("[loadgen] done in %s: ok=%d timeout=%d errored=%d, final state=%+v",
		elapsed, res.ok, res.timeout, res.errored, p.State())
}

func runOne(p *pool.Pool[*redismanager.Conn], res *result) {
	ctx, cancel := context.WithTimeout(context.Background(), *connectionTimeout+time.Second)
	defer cancel()

	start := time.Now()
	pc, err := p.Get(ctx)
	wait := time.Since(start)
	if err != nil {
		if pool.IsTimedOut(err) {
			atomic.AddInt64(&res.timeout, 1)
			poolmetrics.ObserveCheckout(*poolName, "timeout", wait)
		} else {
			atomic.AddInt64(&res.errored, 1)
			poolmetrics.ObserveCheckout(*poolName, "error", wait)
		}
		return
	}
	time.Sleep(*holdTime)
	pc.Release()
	atomic.AddInt64(&res.ok, 1)
	poolmetrics.ObserveCheckout(*poolName, "ok", wait)
}
