// Package partition splits or combines token ranges into repair units of a
// target token size.
package partition

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/masokol/ecchronos/pkg/token"
)

// ErrPartitionInvariant is returned when the split post-condition (sub-range
// sizes sum to the original range size) is violated. It signals an internal
// bug and must never be silently swallowed.
var ErrPartitionInvariant = errors.New("partition: sub-range sizes do not sum to input size")

// Task is one unit of repair work: an ordered set of ranges that a caller is
// expected to repair together.
type Task struct {
	Ranges []token.Range
}

// Partition splits or combines ranges into tasks targeting tokensPerTask
// tokens each. ranges must be in ring order; that order is preserved in the
// returned tasks, which are indexed 0..len(result)-1.
//
// If tokensPerTask is zero, one task is emitted per input range (the
// compatibility mode). Otherwise the first input range decides the mode:
// if it is strictly larger than tokensPerTask every range is independently
// split into sub-ranges of size tokensPerTask (plus a remainder); otherwise
// ranges are packed greedily into tasks no larger than tokensPerTask, except
// that a single range larger than tokensPerTask sits alone in its own task.
func Partition(ranges []token.Range, tokensPerTask *big.Int) ([]Task, error) {
	if len(ranges) == 0 {
		return nil, nil
	}

	ring := token.New()

	var (
		tasks []Task
		err   error
	)
	switch {
	case tokensPerTask.Sign() == 0:
		tasks = partitionIdentity(ranges)
	case ring.RangeSize(ranges[0]).Cmp(tokensPerTask) > 0:
		tasks, err = partitionSplit(ring, ranges, tokensPerTask)
	default:
		tasks = partitionCombine(ring, ranges, tokensPerTask)
	}
	if err != nil {
		return nil, err
	}

	if err := validateSizePreserved(ring, ranges, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func partitionIdentity(ranges []token.Range) []Task {
	tasks := make([]Task, len(ranges))
	for i, r := range ranges {
		tasks[i] = Task{Ranges: []token.Range{r}}
	}
	return tasks
}

func partitionCombine(ring token.Ring, ranges []token.Range, tokensPerTask *big.Int) []Task {
	var tasks []Task

	cur := Task{}
	accumulated := new(big.Int)

	for _, r := range ranges {
		size := ring.RangeSize(r)

		sum := new(big.Int).Add(accumulated, size)
		if len(cur.Ranges) > 0 && sum.Cmp(tokensPerTask) > 0 {
			tasks = append(tasks, cur)
			cur = Task{}
			accumulated = new(big.Int)
		}

		cur.Ranges = append(cur.Ranges, r)
		accumulated.Add(accumulated, size)
	}
	if len(cur.Ranges) > 0 {
		tasks = append(tasks, cur)
	}
	return tasks
}

func partitionSplit(ring token.Ring, ranges []token.Range, tokensPerTask *big.Int) ([]Task, error) {
	var tasks []Task
	for _, r := range ranges {
		subs, err := splitRange(ring, r, tokensPerTask)
		if err != nil {
			return nil, err
		}
		for _, s := range subs {
			tasks = append(tasks, Task{Ranges: []token.Range{s}})
		}
	}
	return tasks, nil
}

// splitRange splits r into sub-ranges of size tokensPerTask, with a final
// remainder sub-range that ends exactly at r.End so that the sub-range sizes
// sum to r's size even when the size is not a multiple of tokensPerTask.
func splitRange(ring token.Ring, r token.Range, tokensPerTask *big.Int) ([]token.Range, error) {
	size := ring.RangeSize(r)
	n := ceilDiv(size, tokensPerTask)
	if n.Cmp(big.NewInt(1)) <= 0 {
		return []token.Range{r}, nil
	}

	steps := new(big.Int).Sub(n, big.NewInt(1)).Int64()

	subs := make([]token.Range, 0, steps+1)
	cur := big.NewInt(r.Start)
	for k := int64(0); k < steps; k++ {
		start, err := ring.WrapToInt64(cur)
		if err != nil {
			return nil, err
		}
		next := new(big.Int).Add(cur, tokensPerTask)
		end, err := ring.WrapToInt64(next)
		if err != nil {
			return nil, err
		}
		subs = append(subs, token.Range{Start: start, End: end})
		cur = next
	}

	lastStart, err := ring.WrapToInt64(cur)
	if err != nil {
		return nil, err
	}
	subs = append(subs, token.Range{Start: lastStart, End: r.End})

	return subs, nil
}

// ceilDiv computes ceil(a/b) for positive a, b.
func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func validateSizePreserved(ring token.Ring, ranges []token.Range, tasks []Task) error {
	want := new(big.Int)
	for _, r := range ranges {
		want.Add(want, ring.RangeSize(r))
	}

	got := new(big.Int)
	for _, t := range tasks {
		for _, r := range t.Ranges {
			got.Add(got, ring.RangeSize(r))
		}
	}

	if want.Cmp(got) != 0 {
		return errors.Wrapf(ErrPartitionInvariant, "expected %s tokens, got %s", want, got)
	}
	return nil
}
