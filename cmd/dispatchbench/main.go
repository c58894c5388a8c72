// dispatchbench 压测 outbox 分发：发布 EVENTS 个事件 × RECIPIENTS 个接收人，
// 用 WORKERS 个分发循环消费，输出吞吐与发布→通知延迟分位数。
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/d60-Lab/projtrack/config"
	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/internal/repository"
	"github.com/d60-Lab/projtrack/internal/service"
	"github.com/d60-Lab/projtrack/pkg/database"
	"github.com/d60-Lab/projtrack/pkg/id"
)

type latencySink struct {
	mu        sync.Mutex
	latencies []time.Duration
}

func (s *latencySink) Deliver(_ context.Context, batch []*model.Notification) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range batch {
		if published, err := id.Time(n.DispatchRecordID); err == nil {
			s.latencies = append(s.latencies, now.Sub(published))
		}
	}
}

func (s *latencySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.latencies)
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(float64(len(xs)) * p)
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	db, err := database.InitDB(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = database.Close(db) }()

	events := envInt("EVENTS", 200)
	recipients := envInt("RECIPIENTS", 20)
	workers := envInt("WORKERS", cfg.Dispatch.Workers)
	dispatchCfg := cfg.Dispatch
	dispatchCfg.BatchSize = envInt("BATCH", dispatchCfg.BatchSize)
	dispatchCfg.IdleDelay = 20 * time.Millisecond

	outbox := repository.NewOutboxRepository(db)
	prefs := repository.NewPreferenceRepository(db)
	sink := &latencySink{}
	publisher := service.NewPublisher(outbox)
	dispatcher := service.NewDispatcher(outbox, repository.NewNotificationRepository(db),
		service.DefaultPreferenceFilter(prefs), sink, dispatchCfg)

	ctx := context.Background()
	rcpts := make([]string, recipients)
	for i := range rcpts {
		rcpts[i] = fmt.Sprintf("bench-u%04d", i)
	}
	// 每 10 个接收人屏蔽一个，覆盖偏好跳过路径
	projectID := int64(1)
	for i := 0; i < recipients; i += 10 {
		_ = prefs.MuteProject(ctx, rcpts[i], projectID)
	}
	muted := (recipients + 9) / 10
	expected := events * (recipients - muted)

	start := time.Now()
	stop := dispatcher.Start(workers)
	for e := 0; e < events; e++ {
		meta := service.Metadata{ProjectID: &projectID, Fingerprint: fmt.Sprintf("bench-%d-%d", start.UnixNano(), e)}
		if _, err := publisher.Publish(ctx, model.KindCommentMention, rcpts, map[string]int{"seq": e}, meta); err != nil {
			panic(err)
		}
	}
	publishDone := time.Since(start)

	deadline := time.Now().Add(5 * time.Minute)
	for sink.count() < expected && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	elapsed := time.Since(start)
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = stop(stopCtx)

	sink.mu.Lock()
	lat := append([]time.Duration(nil), sink.latencies...)
	sink.mu.Unlock()

	fmt.Printf("EVENTS=%d RECIPIENTS=%d WORKERS=%d BATCH=%d\n", events, recipients, workers, dispatchCfg.BatchSize)
	fmt.Printf("published %d records in %v\n", events*recipients, publishDone)
	fmt.Printf("delivered %d/%d notifications in %v (%.0f/s)\n", len(lat), expected, elapsed, float64(len(lat))/elapsed.Seconds())
	fmt.Printf("publish->notification latency: p50=%v p95=%v p99=%v\n", pct(lat, 0.50), pct(lat, 0.95), pct(lat, 0.99))
}
