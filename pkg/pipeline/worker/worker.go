package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Options struct {
	// ChunkSize bounds how many items are in flight together. Chunks run one after
	// another; <=0 puts every item in a single chunk.
	ChunkSize int

	// Workers caps concurrency inside a chunk. <=0 dispatches the whole chunk at once.
	Workers int

	// RequestTimeout bounds each processor call. <=0 disables the per-item deadline.
	RequestTimeout time.Duration

	// RateLimitRPS is a global limit across all items. Set to <=0 to disable.
	RateLimitRPS float64
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	// Index is the item's position in the submitted slice.
	Index int
	// Chunk is the zero-based chunk the item was dispatched in.
	Chunk int

	Input  In
	Output Out
	Err    error
}

// PanicError is recorded in an item's result when its processor panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("processor panic: %v", e.Value)
}

// Chunk is a half-open [Start, End) range over the submitted items.
type Chunk struct {
	Start int
	End   int
}

// Chunks splits n items into consecutive ranges of at most size items.
func Chunks(n, size int) []Chunk {
	if n <= 0 {
		return nil
	}
	if size <= 0 || size > n {
		size = n
	}
	out := make([]Chunk, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		out = append(out, Chunk{Start: start, End: end})
	}
	return out
}

// ProcessAll runs the processor over all input items.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, processor, nil, opts)
}

// ProcessAllWithCallback runs the processor over all input items and invokes onResult
// as each item completes. The callback receives completion-order results and is never
// called concurrently. A callback error stops the run; item errors never do.
//
// When the run stops early the results are still returned alongside the error: items
// that finished keep their outcome and items of chunks that never started carry the
// stopping error.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	chunks := Chunks(len(items), opts.ChunkSize)
	out := make([]Result[In, Out], len(items))
	for chunkIdx, chunk := range chunks {
		for i := chunk.Start; i < chunk.End; i++ {
			out[i] = Result[In, Out]{Input: items[i], Index: i, Chunk: chunkIdx}
		}
	}
	skipFrom := func(start int, err error) {
		for i := start; i < len(out); i++ {
			out[i].Err = err
		}
	}
	var cbMu sync.Mutex

	for chunkIdx, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			skipFrom(chunk.Start, err)
			return out, err
		}

		g, gctx := errgroup.WithContext(ctx)
		if opts.Workers > 0 {
			g.SetLimit(opts.Workers)
		}
		for i := chunk.Start; i < chunk.End; i++ {
			g.Go(func() error {
				res := processOne(gctx, items[i], processor, limiter, opts)
				res.Index = i
				res.Chunk = chunkIdx
				out[i] = res
				if onResult == nil {
					return nil
				}
				cbMu.Lock()
				defer cbMu.Unlock()
				return onResult(res)
			})
		}
		if err := g.Wait(); err != nil {
			skipFrom(chunk.End, err)
			return out, err
		}
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func processOne[In any, Out any](
	ctx context.Context,
	item In,
	processor func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) (res Result[In, Out]) {
	res.Input = item
	defer func() {
		if r := recover(); r != nil {
			var zero Out
			res.Output = zero
			res.Err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			res.Err = err
			return res
		}
	}

	reqCtx := ctx
	if opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		defer cancel()
	}
	res.Output, res.Err = processor(reqCtx, item)
	return res
}
