package fetcher

import (
	"context"
	"fmt"
	"time"

	"optionflow/logger"
	"optionflow/models"
)

type periodicTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func taskKey(symbol, expiryDate string) string {
	return symbol + "|" + expiryDate
}

// StartPeriodic schedules repeated fetch cycles for a (symbol, expiry)
// pair. A second start for the same pair returns ErrAlreadyRunning and
// leaves the existing task untouched. The first cycle runs immediately.
func (f *Fetcher) StartPeriodic(ctx context.Context, symbol, expiryDate string, interval time.Duration) error {
	inst, err := f.resolver.Classify(symbol)
	if err != nil {
		return err
	}
	if interval <= 0 {
		interval = f.cfg.Interval
	}
	key := taskKey(inst.Symbol, expiryDate)

	f.mu.Lock()
	if _, exists := f.tasks[key]; exists {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s %s", models.ErrAlreadyRunning, inst.Symbol, expiryDate)
	}
	taskCtx, cancel := context.WithCancel(ctx)
	task := &periodicTask{cancel: cancel, done: make(chan struct{})}
	f.tasks[key] = task
	f.mu.Unlock()

	go f.runPeriodic(taskCtx, task, inst.Symbol, expiryDate, interval)

	f.log.WithComponent("oi_fetcher").WithFields(logger.Fields{
		"symbol":   inst.Symbol,
		"expiry":   expiryDate,
		"interval": interval.String(),
	}).Info("periodic oi fetch started")
	return nil
}

func (f *Fetcher) runPeriodic(ctx context.Context, task *periodicTask, symbol, expiryDate string, interval time.Duration) {
	defer close(task.done)
	defer func() {
		f.mu.Lock()
		delete(f.tasks, taskKey(symbol, expiryDate))
		f.mu.Unlock()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Cycles run on a context detached from task cancellation so a stop
	// never aborts an in-flight ladder mid-write. Cancellation only
	// decides whether the next cycle starts.
	fetchCtx := context.WithoutCancel(ctx)

	for {
		if _, err := f.Fetch(fetchCtx, symbol, expiryDate); err != nil {
			f.log.WithComponent("oi_fetcher").WithError(err).WithFields(logger.Fields{
				"symbol": symbol,
				"expiry": expiryDate,
			}).Error("periodic fetch cycle failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StopPeriodic cancels the periodic task for a (symbol, expiry) pair
// and waits for its in-flight cycle to finish. Stopping a pair with no
// task returns ErrNotRunning.
func (f *Fetcher) StopPeriodic(symbol, expiryDate string) error {
	inst, err := f.resolver.Classify(symbol)
	if err != nil {
		return err
	}
	key := taskKey(inst.Symbol, expiryDate)

	f.mu.Lock()
	task, exists := f.tasks[key]
	f.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s %s", models.ErrNotRunning, inst.Symbol, expiryDate)
	}

	task.cancel()
	<-task.done

	f.log.WithComponent("oi_fetcher").WithFields(logger.Fields{
		"symbol": inst.Symbol,
		"expiry": expiryDate,
	}).Info("periodic oi fetch stopped")
	return nil
}

// StopAll cancels every periodic task and waits for them to drain.
func (f *Fetcher) StopAll() {
	f.mu.Lock()
	tasks := make([]*periodicTask, 0, len(f.tasks))
	for _, task := range f.tasks {
		tasks = append(tasks, task)
	}
	f.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
		<-task.done
	}
}

// Active returns the keys of the running periodic tasks.
func (f *Fetcher) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.tasks))
	for key := range f.tasks {
		keys = append(keys, key)
	}
	return keys
}
