package pipeq

import "context"

// defaultStageBatch is how many elements a stage worker pops per transform
// call, matching pipe.c's BUFFER_SIZE constant.
const defaultStageBatch = 32

// StageFunc transforms one batch popped from a stage's input queue, pushing
// zero or more elements into out. It runs serially on that stage's one
// worker goroutine; aux is shared, read-only, across every stage and must
// therefore be safe for concurrent use if more than one stage touches it.
type StageFunc func(batch []byte, out *ProducerHandle, aux any)

// Stage describes one pipeline step: the element size of the queue its
// transform pushes into (the stage's output queue), and the transform its
// worker runs. The first stage's input queue is sized by NewPipeline's
// headElemSize.
type Stage struct {
	ElemSize int
	Proc     StageFunc
}

// NewPipeline builds n+1 queues for a head element size and n stages,
// spawning one worker goroutine per stage, and returns the head producer
// handle and the tail consumer handle. This replaces pipe_pipeline's
// variadic, zero-terminated argument list (Design Note 9.3) with an ordered
// slice validated up front.
func NewPipeline(aux any, headElemSize int, stages []Stage, opts ...PipelineOption) (*ProducerHandle, *ConsumerHandle, error) {
	if headElemSize <= 0 {
		return nil, nil, ErrInvalidUsage
	}
	for _, s := range stages {
		if s.ElemSize <= 0 || s.Proc == nil {
			return nil, nil, ErrInvalidUsage
		}
	}

	cfg := newPipelineConfig(opts)

	_, headProducer, firstConsumer, err := NewQueue(headElemSize, 0)
	if err != nil {
		return nil, nil, err
	}

	in := firstConsumer
	for _, stage := range stages {
		_, outProducer, outConsumer, err := NewQueue(stage.ElemSize, 0)
		if err != nil {
			return nil, nil, err
		}

		// The worker goroutine takes sole ownership of in (consumer) and
		// outProducer (producer) and releases both when it exits. Unlike
		// pipe_pipeline, NewQueue never hands out an extra combined handle
		// here, so there's no dup-then-drop dance needed to get down to a
		// single producer ref for the worker to own (Design Note 9.1/9.2).
		runStage(in, stage.Proc, aux, outProducer, cfg.stageBatch)

		in = outConsumer
	}

	return headProducer, in, nil
}

// runStage spawns the worker goroutine for one pipeline stage. It owns in
// and out for its entire lifetime and releases both when the input queue
// reaches end-of-stream.
func runStage(in *ConsumerHandle, proc StageFunc, aux any, out *ProducerHandle, batchElems int) {
	go func() {
		buf := make([]byte, batchElems*in.q.elemSize)
		ctx := context.Background()

		for {
			n, _ := in.Pop(ctx, buf)
			if n == 0 {
				break
			}
			proc(buf[:n*in.q.elemSize], out, aux)
		}

		in.Release()
		out.Release()
	}()
}
