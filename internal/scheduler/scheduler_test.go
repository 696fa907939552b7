package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atmx/wallet-engine/internal/scheduler"
)

func TestIntervalJob_StartsImmediately(t *testing.T) {
	s, err := scheduler.New()
	if err != nil {
		t.Fatal(err)
	}
	ran := make(chan struct{})
	var once sync.Once
	err = s.NewIntervalJob("probe", func(context.Context) error {
		once.Do(func() { close(ran) })
		return nil
	}, time.Hour, true)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start immediately")
	}
}

func TestJob_PanicIsRecovered(t *testing.T) {
	s, err := scheduler.New()
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	runs := 0
	err = s.NewIntervalJob("panicky", func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		panic("boom")
	}, 20*time.Millisecond, true)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := runs
		mu.Unlock()
		if n >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scheduler stopped running the job after a panic")
}

func TestCrontabJob_InvalidSpec(t *testing.T) {
	s, err := scheduler.New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if err := s.NewCrontabJob("bad", func(context.Context) error { return nil }, "not a cron", false); err == nil {
		t.Fatal("expected error for invalid crontab")
	}
}
