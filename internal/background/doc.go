// Package background implements the webhook delivery engine: acquiring
// tasks, POSTing their bodies to client URLs and retrying failures with
// exponential backoff.
//
// # Task Lifecycle
//
// Task states:
//
//	pending -> in_progress -> completed/failed
//	                       -> pending (rescheduled after a transport failure)
//
// Every transition goes through the store's conditional update, which only
// matches while the row's retry_count equals the caller's expectation.
// Acquisition increments retry_count, so for any (id, retry_count) pair at
// most one worker wins; duplicate or stale instructions lose the compare
// and are dropped. completed and failed are sticky: the store refuses any
// further write.
//
// # Key Components
//
//   - Lifecycle: acquire / complete / fail / reschedule transitions, with
//     the retry ceilings that convert a reschedule into a failure
//   - Performer: executes one instruction end to end and maps the HTTP
//     outcome (2xx up to 201 completes, 202..499 fails, 5xx or no response
//     reschedules)
//   - Pool: a dispatcher popping the broker with adaptive backoff, feeding
//     a bounded set of performer goroutines
//   - DueScanner: republishes overdue pending and in_progress tasks, the
//     safety net for lost pushes and crashed workers
//
// # Usage
//
//	calc := background.NewDueCalculator(cfg.MinDelay)
//	lifecycle := background.NewLifecycle(store, calc, cfg.MaxTaskErrors, cfg.MaxTaskDelay, logger, metrics)
//	performer := background.NewPerformer(lifecycle, nil, logger, metrics)
//
//	pool := background.NewPool(poolCfg, queue, store, performer, logger, metrics)
//	if err := pool.Start(); err != nil {
//	    return err
//	}
//	defer pool.Stop(30 * time.Second)
//
// In finish-on-empty mode the pool exits on its own once the broker and the
// store are drained:
//
//	<-pool.Done()
//	if err := pool.Err(); err != nil {
//	    os.Exit(1)
//	}
package background
