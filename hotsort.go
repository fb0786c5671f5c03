package hotsort

import (
	"fmt"
)

// Options tune a Sorter.
type Options struct {
	// HostFence makes Sort wait on the host after every global merge pass
	// instead of queueing the whole plan at once. Results are identical;
	// a failing pass stops the sort before later passes are queued.
	HostFence bool

	// Trace, when set, receives every dispatch in launch order.
	Trace func(Dispatch)
}

// Option configures Options.
type Option func(*Options)

// WithHostFence enables a host fence after each global merge pass.
func WithHostFence() Option {
	return func(o *Options) { o.HostFence = true }
}

// WithTrace installs a dispatch observer.
func WithTrace(fn func(Dispatch)) Option {
	return func(o *Options) { o.Trace = fn }
}

// Sorter sorts buffers of K keys, with V values when its target carries
// them, on one device. A Sorter is immutable once built; any number of
// goroutines may call Sort concurrently on distinct buffers.
type Sorter[K, V Word] struct {
	dev    *Device
	target Target
	net    *network
	bind   binder[K, V]
	opts   Options
}

// binder turns a planned dispatch into a launch on the given buffers.
type binder[K, V Word] func(d Dispatch, in, out *Buffer[K, V], count, paddedOut int) Launch

// NewSorter compiles target for dev. The key type must match the target's
// key width, and the value type its value width when it has one.
func NewSorter[K, V Word](dev *Device, target *Target, opts ...Option) (*Sorter[K, V], error) {
	if dev == nil {
		return nil, NewUsageError("NewSorter", "nil device")
	}
	if target == nil {
		return nil, NewConfigurationError("NewSorter", "nil target")
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	op := "Target " + target.Name
	if kw := wordCount[K](); int(target.Words.Key) != kw {
		return nil, NewConfigurationError(op, fmt.Sprintf("target has %d key words, key type has %d", target.Words.Key, kw))
	}
	if target.Words.Val != 0 {
		if vw := wordCount[V](); int(target.Words.Val) != vw {
			return nil, NewConfigurationError(op, fmt.Sprintf("target has %d value words, value type has %d", target.Words.Val, vw))
		}
	}

	net := compileNetwork(target)
	if !net.checkSchedule() {
		return nil, NewConfigurationError(op, "compiled network does not match slab geometry")
	}

	s := &Sorter[K, V]{
		dev:    dev,
		target: *target,
		net:    net,
	}
	strategy := "mask"
	switch target.KeyWidth() {
	case KeyWidth64:
		s.bind = bindKernels[K, V, branchExchange[K]](net)
		strategy = "branch"
	default:
		s.bind = bindKernels[K, V, maskExchange[K]](net)
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	dev.logf("sorter %s: slab %dx%d, block %d slabs, %s, %s exchange", target.Name,
		net.lanes, net.rows, net.blockSlabs, target.KeyWidth(), strategy)
	return s, nil
}

// Target returns a copy of the sorter's target.
func (s *Sorter[K, V]) Target() Target {
	return s.target
}

// Pad returns the padded input and output counts for count keys.
func (s *Sorter[K, V]) Pad(count int) (countPaddedIn, countPaddedOut int, err error) {
	return s.target.Pad(count)
}

// Info returns the target geometry.
func (s *Sorter[K, V]) Info() Info {
	return s.target.Info()
}

// Plan returns the dispatches a sort of count keys would launch.
func (s *Sorter[K, V]) Plan(count int, linearize bool) ([]Dispatch, error) {
	in, out, err := s.target.Pad(count)
	if err != nil {
		return nil, err
	}
	return s.net.plan(count, in, out, linearize), nil
}

// Sort sorts the first count keys of vin into vout in ascending order,
// moving each value with its key. vout must hold countPaddedOut keys;
// vin and vout may be the same buffer.
//
// With linearize the first count positions of vout hold the sorted keys.
// Without it vout is left in slab-striped layout and the i-th smallest key
// is at Target.Stripe(i).
//
// Sort returns once the device has finished. Errors reported by the device
// leave vout unspecified.
func (s *Sorter[K, V]) Sort(vin, vout *Buffer[K, V], count int, linearize bool) error {
	paddedIn, paddedOut, err := s.target.Pad(count)
	if err != nil {
		return err
	}
	in, out, err := s.views(vin, vout, count, paddedOut)
	if err != nil {
		return err
	}

	plan := s.net.plan(count, paddedIn, paddedOut, linearize)
	stream := s.dev.NewStream()
	for _, d := range plan {
		if s.opts.Trace != nil {
			s.opts.Trace(d)
		}
		if s.dev.verbose {
			s.dev.logf("%s: %s", s.target.Name, d)
		}
		if err := stream.Launch(s.bind(d, in, out, count, paddedOut)); err != nil {
			stream.Destroy()
			return err
		}
		if s.opts.HostFence && d.endsPass() {
			<-stream.Fence()
			if stream.Err() != nil {
				break
			}
		}
	}
	return stream.Destroy()
}

// views checks the caller's buffers and returns the ones kernels use:
// value arrays are dropped when the target carries none.
func (s *Sorter[K, V]) views(vin, vout *Buffer[K, V], count, paddedOut int) (in, out *Buffer[K, V], err error) {
	if vin == nil || vout == nil {
		return nil, nil, NewUsageError("Sort", "nil buffer")
	}
	if len(vin.Keys) < count {
		return nil, nil, wrapError(ErrBufferTooSmall,
			fmt.Errorf("input holds %d keys, count is %d", len(vin.Keys), count))
	}
	if len(vout.Keys) < paddedOut {
		return nil, nil, wrapError(ErrBufferTooSmall,
			fmt.Errorf("output holds %d keys, %s needs %d for count %d", len(vout.Keys), s.target.Name, paddedOut, count))
	}

	if s.target.Words.Val == 0 {
		return &Buffer[K, V]{Keys: vin.Keys}, &Buffer[K, V]{Keys: vout.Keys}, nil
	}
	if len(vin.Vals) < count || len(vout.Vals) < paddedOut {
		return nil, nil, ErrMissingValues
	}
	return &Buffer[K, V]{Keys: vin.Keys, Vals: vin.Vals}, &Buffer[K, V]{Keys: vout.Keys, Vals: vout.Vals}, nil
}

// bindKernels instantiates every kernel with the exchange strategy X.
func bindKernels[K, V Word, X exchanger[K]](n *network) binder[K, V] {
	return func(d Dispatch, in, out *Buffer[K, V], count, paddedOut int) Launch {
		l := Launch{Name: d.Kernel, Grid: d.Grid, Block: d.Block}
		switch d.Kernel {
		case KernelSlabSort:
			l.Kernel = slabSortKernel[K, V, X](n, in, out, count)
		case KernelFill:
			l.Kernel = fillKernel(n, out, 1)
		case KernelBlockSort:
			l.Shared = newBlockShared[K, V](n, out.Vals != nil)
			l.Kernel = blockSortKernel[K, V, X](n, in, out, count)
		case KernelFlipMerge:
			l.Kernel = flipMergeKernel[K, V, X](n, out, count, paddedOut, d.Span, d.Scale)
		case KernelHalfMerge:
			l.Kernel = halfMergeKernel[K, V, X](n, out, count, paddedOut, d.Span, d.Scale)
		case KernelBlockClean:
			l.Shared = newBlockShared[K, V](n, out.Vals != nil)
			l.Kernel = blockCleanKernel[K, V, X](n, out, count, d.Span)
		case KernelTranspose:
			l.Kernel = transposeKernel(n, out, count)
		}
		return l
	}
}
