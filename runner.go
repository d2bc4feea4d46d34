package dorm

import (
	"context"
	"errors"
	"sync"
)

// ErrWorkerClosed is returned when a statement is submitted to a Worker that
// has been closed.
var ErrWorkerClosed = errors.New("dorm: worker closed")

// Worker is the deferred execution strategy: a Conn decorator that funnels
// every statement through one dedicated goroutine with a single execution
// slot. Concurrent callers queue at the handoff boundary and are never
// interleaved, which preserves the single-writer discipline without locks.
//
// Cancellation is honored only while a call waits for the slot. Once a
// statement has been handed to the worker it runs detached from the caller's
// context and the caller awaits its completion unconditionally; a hung
// statement ties up the slot indefinitely.
type Worker struct {
	conn Conn
	jobs chan func()
	quit chan struct{}
	once sync.Once
}

// NewWorker starts the worker goroutine around an existing Conn.
func NewWorker(conn Conn) *Worker {
	w := &Worker{
		conn: conn,
		jobs: make(chan func()),
		quit: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case job := <-w.jobs:
			job()
		case <-w.quit:
			return
		}
	}
}

// Close stops the worker goroutine. Statements already handed over complete;
// later submissions fail with ErrWorkerClosed.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.quit) })
}

// submit hands a job to the worker and awaits its completion.
func (w *Worker) submit(ctx context.Context, job func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		job()
	}
	select {
	case w.jobs <- wrapped:
	case <-w.quit:
		return ErrWorkerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Exec implements Conn.
func (w *Worker) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	var (
		res Result
		err error
	)
	if serr := w.submit(ctx, func() {
		res, err = w.conn.Exec(context.WithoutCancel(ctx), query, args...)
	}); serr != nil {
		return Result{}, serr
	}
	return res, err
}

// Query implements Conn.
func (w *Worker) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	var (
		rows []Row
		err  error
	)
	if serr := w.submit(ctx, func() {
		rows, err = w.conn.Query(context.WithoutCancel(ctx), query, args...)
	}); serr != nil {
		return nil, serr
	}
	return rows, err
}

// Introspect implements Conn.
func (w *Worker) Introspect(ctx context.Context, table string) ([]ColumnInfo, error) {
	var (
		infos []ColumnInfo
		err   error
	)
	if serr := w.submit(ctx, func() {
		infos, err = w.conn.Introspect(context.WithoutCancel(ctx), table)
	}); serr != nil {
		return nil, serr
	}
	return infos, err
}
