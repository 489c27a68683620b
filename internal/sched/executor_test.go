package sched_test

import (
	"testing"

	"github.com/wipirt/wipirt/internal/sched"
)

func countdownFuture(n int) *sched.FuncFuture[int] {
	remaining := n
	f := &sched.FuncFuture[int]{}
	f.PollFunc = func() (int, bool) {
		remaining--
		if remaining <= 0 {
			return n, true
		}
		return 0, false
	}
	return f
}

func TestTickResolvesAfterEnoughPolls(t *testing.T) {
	e := sched.New()
	var result int
	sched.Spawn(e, countdownFuture(3), func(v int) { result = v })

	if e.Idle() {
		t.Fatal("executor should not be idle immediately after spawn")
	}
	for i := 0; i < 2; i++ {
		if pending := e.Tick(); pending == 0 {
			t.Fatalf("task resolved too early, on tick %d", i+1)
		}
	}
	if pending := e.Tick(); pending != 0 {
		t.Fatalf("expected task to resolve on third tick, %d still pending", pending)
	}
	if !e.Idle() {
		t.Error("expected executor to be idle once all tasks resolve")
	}
	if result != 3 {
		t.Errorf("onDone result = %d, want 3", result)
	}
}

func TestTickRunsTasksIndependently(t *testing.T) {
	e := sched.New()
	var done1, done2 bool
	sched.Spawn(e, countdownFuture(1), func(int) { done1 = true })
	sched.Spawn(e, countdownFuture(5), func(int) { done2 = true })

	e.Tick()
	if !done1 {
		t.Error("fast task should have resolved on the first tick")
	}
	if done2 {
		t.Error("slow task should not have resolved yet")
	}
	if e.Pending() != 1 {
		t.Errorf("pending = %d, want 1", e.Pending())
	}
}

func TestCancelDropsAllTasks(t *testing.T) {
	e := sched.New()
	sched.Spawn(e, countdownFuture(100), func(int) {})
	sched.Spawn(e, countdownFuture(100), func(int) {})
	e.Cancel()
	if !e.Idle() {
		t.Error("expected Cancel to drop every in-flight task")
	}
}
