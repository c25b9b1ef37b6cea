package core

import "context"

// InputAdapter loads input records for pipeline processing.
type InputAdapter[In any] interface {
	Load(ctx context.Context) ([]In, error)
}

// OutputAdapter persists output records produced by pipeline processing.
type OutputAdapter[Out any] interface {
	Store(ctx context.Context, rows []Out) error
}

// Processor transforms one input item into one output item.
type Processor[In any, Out any] interface {
	Process(ctx context.Context, in In) (Out, error)
}

// ProcessFunc adapts a function to the Processor interface.
type ProcessFunc[In any, Out any] func(ctx context.Context, in In) (Out, error)

func (f ProcessFunc[In, Out]) Process(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// MultiOutput fans rows out to several sinks in order, stopping at the first error.
type MultiOutput[Out any] []OutputAdapter[Out]

func (m MultiOutput[Out]) Store(ctx context.Context, rows []Out) error {
	for _, o := range m {
		if o == nil {
			continue
		}
		if err := o.Store(ctx, rows); err != nil {
			return err
		}
	}
	return nil
}
