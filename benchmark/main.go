// Package main benchmarks asynx's AddTask throughput: it inserts a large
// number of immediate tasks into one taskqueue and reports inserts/sec,
// then polls the broker until its ready and processing lists are empty
// and reports how long that took. It does not dequeue jobs itself; the
// lists only empty while workers are running against the same Redis.
//
// Usage:
//
//	go run benchmark/main.go -tasks 100000
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asynxgo/asynx/pkg/broker"
	"github.com/asynxgo/asynx/pkg/store"
	"github.com/asynxgo/asynx/pkg/taskqueue"
	"github.com/asynxgo/asynx/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

func main() {
	numTasks := flag.Int("tasks", 100000, "Number of tasks to insert")
	numWorkers := flag.Int("workers", 10, "Number of concurrent inserters")
	redisAddr := flag.String("redis", "127.0.0.1:6379", "Redis address")
	flag.Parse()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	tq := taskqueue.New("benchmark", "default", store.New(rdb), broker.New(rdb), time.UTC)
	br := broker.New(rdb)
	ctx := context.Background()

	fmt.Printf("asynx AddTask benchmark\n")
	fmt.Printf("========================\n")
	fmt.Printf("Tasks to insert: %d\n", *numTasks)
	fmt.Printf("Concurrent inserters: %d\n\n", *numWorkers)

	fmt.Printf("Starting insert phase...\n")
	start := time.Now()

	var wg sync.WaitGroup
	var inserted atomic.Int64
	perWorker := *numTasks / *numWorkers

	for w := 0; w < *numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				d := &tasks.Descriptor{
					Request: tasks.Request{
						Method: "GET",
						URL:    "http://httpbin.org/get",
					},
				}
				if _, err := tq.AddTask(ctx, d); err != nil {
					fmt.Printf("error inserting: %v\n", err)
					return
				}
				inserted.Add(1)
			}
		}(w)
	}
	wg.Wait()

	insertTime := time.Since(start)
	fmt.Printf("Inserted %d tasks in %s\n", inserted.Load(), insertTime)
	fmt.Printf("  Throughput: %.2f inserts/sec\n\n", float64(inserted.Load())/insertTime.Seconds())

	fmt.Printf("Draining broker ready list...\n")
	drainStart := time.Now()
	for {
		depths, err := br.Depths(ctx)
		if err != nil {
			fmt.Printf("error reading depths: %v\n", err)
			break
		}
		if depths["ready"] == 0 && depths["processing"] == 0 {
			break
		}
		time.Sleep(500 * time.Millisecond)
		fmt.Printf("  Remaining ready+processing: %d\n", depths["ready"]+depths["processing"])
	}
	fmt.Printf("Drained in %s\n", time.Since(drainStart))
}
