package persistence

import (
	"context"
	"fmt"
	"reflect"

	"github.com/dogmatiq/marshalkit"
)

// HandleMap is a collection of values of type V keyed by Handle.
//
// All operations are performed within a transaction. Implementations must be
// safe for concurrent use by multiple transactions.
type HandleMap[V any] interface {
	// Put stores v and returns its newly assigned handle.
	//
	// If v implements HandleSetter, the handle is written back to v.
	Put(ctx context.Context, tx Transaction, v V) (Handle, error)

	// Get returns the value stored at h. ok is false if there is no such
	// value.
	Get(ctx context.Context, tx Transaction, h Handle) (_ V, ok bool, _ error)

	// Set replaces the value stored at h.
	//
	// It returns a NotFoundError if there is no value stored at h.
	Set(ctx context.Context, tx Transaction, h Handle, v V) error

	// Remove removes the value stored at h, along with any dependent values.
	// It returns true if a value was removed.
	Remove(ctx context.Context, tx Transaction, h Handle) (bool, error)

	// Contains returns true if there is a value stored at h.
	Contains(ctx context.Context, tx Transaction, h Handle) (bool, error)

	// Iterate returns an iterator over all values in the map.
	//
	// The iterator must be closed when it is no longer needed.
	Iterate(ctx context.Context, tx Transaction) (Iterator[V], error)

	// InvalidateCache discards any cached copy of the value stored at h.
	InvalidateCache(h Handle)

	// InvalidateAll discards all cached values.
	InvalidateAll()
}

// Iterator is a lazy sequence of the values in a HandleMap.
type Iterator[V any] interface {
	// Next returns the next value. ok is false once the iterator is exhausted.
	Next(ctx context.Context) (_ Handle, _ V, ok bool, _ error)

	// Close releases the resources held by the iterator.
	Close() error
}

// Map is a HandleMap that stores its values in a single table of a data-store,
// marshaled using a marshalkit.ValueMarshaler.
//
// Map performs no caching, InvalidateCache() and InvalidateAll() are no-ops.
type Map[V any] struct {
	// Table is the name of the table that contains the values.
	Table string

	// Marshaler is used to marshal and unmarshal the values. The type V must
	// be registered with the marshaler.
	Marshaler marshalkit.ValueMarshaler

	// PreRemove, if non-nil, is called within the removing transaction
	// immediately before a value is removed. It is used to remove any values
	// that depend on the value being removed.
	PreRemove func(ctx context.Context, tx Transaction, h Handle) error
}

var _ HandleMap[any] = (*Map[any])(nil)

// Put stores v and returns its newly assigned handle.
func (m *Map[V]) Put(ctx context.Context, tx Transaction, v V) (Handle, error) {
	p, err := m.Marshaler.Marshal(v)
	if err != nil {
		return 0, err
	}

	h, err := tx.Insert(ctx, m.Table, p)
	if err != nil {
		return 0, err
	}

	if s, ok := any(v).(HandleSetter); ok {
		s.SetHandle(h)
	}

	return h, nil
}

// Get returns the value stored at h.
func (m *Map[V]) Get(ctx context.Context, tx Transaction, h Handle) (V, bool, error) {
	var zero V

	p, ok, err := tx.Load(ctx, m.Table, h)
	if !ok || err != nil {
		return zero, false, err
	}

	v, err := m.unmarshal(h, p)
	if err != nil {
		return zero, false, err
	}

	return v, true, nil
}

// Set replaces the value stored at h.
func (m *Map[V]) Set(ctx context.Context, tx Transaction, h Handle, v V) error {
	p, err := m.Marshaler.Marshal(v)
	if err != nil {
		return err
	}

	ok, err := tx.Update(ctx, m.Table, h, p)
	if err != nil {
		return err
	}

	if !ok {
		return NotFoundError{
			Cause: UpdateRow{
				Table:  m.Table,
				Handle: h,
				Packet: p,
			},
		}
	}

	return nil
}

// Remove removes the value stored at h.
func (m *Map[V]) Remove(ctx context.Context, tx Transaction, h Handle) (bool, error) {
	if m.PreRemove != nil {
		ok, err := m.Contains(ctx, tx, h)
		if !ok || err != nil {
			return false, err
		}

		if err := m.PreRemove(ctx, tx, h); err != nil {
			return false, err
		}
	}

	return tx.Delete(ctx, m.Table, h)
}

// Contains returns true if there is a value stored at h.
func (m *Map[V]) Contains(ctx context.Context, tx Transaction, h Handle) (bool, error) {
	_, ok, err := tx.Load(ctx, m.Table, h)
	return ok, err
}

// Iterate returns an iterator over all values in the map.
func (m *Map[V]) Iterate(ctx context.Context, tx Transaction) (Iterator[V], error) {
	cur, err := tx.Scan(ctx, m.Table)
	if err != nil {
		return nil, err
	}

	return &iterator[V]{m, cur}, nil
}

// InvalidateCache does nothing.
func (m *Map[V]) InvalidateCache(Handle) {}

// InvalidateAll does nothing.
func (m *Map[V]) InvalidateAll() {}

// unmarshal unmarshals the value stored at h.
func (m *Map[V]) unmarshal(h Handle, p marshalkit.Packet) (V, error) {
	var zero V

	x, err := m.Marshaler.Unmarshal(p)
	if err != nil {
		return zero, UnmarshalError{m.Table, h, err}
	}

	v, ok := x.(V)
	if !ok {
		// The marshaler may produce the value itself when V is a pointer type,
		// in which case we need to take its address.
		rv := reflect.ValueOf(x)
		rt := reflect.TypeOf(zero)

		if rt == nil || rt.Kind() != reflect.Pointer || rv.Type() != rt.Elem() {
			return zero, UnmarshalError{
				m.Table,
				h,
				fmt.Errorf("unexpected value type %T", x),
			}
		}

		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)
		v = ptr.Interface().(V)
	}

	if s, ok := any(v).(HandleSetter); ok {
		s.SetHandle(h)
	}

	return v, nil
}

// iterator is the Iterator implementation used by Map.
type iterator[V any] struct {
	m   *Map[V]
	cur RowCursor
}

func (i *iterator[V]) Next(ctx context.Context) (Handle, V, bool, error) {
	var zero V

	h, p, ok, err := i.cur.Next(ctx)
	if !ok || err != nil {
		return 0, zero, false, err
	}

	v, err := i.m.unmarshal(h, p)
	if err != nil {
		return 0, zero, false, err
	}

	return h, v, true, nil
}

func (i *iterator[V]) Close() error {
	return i.cur.Close()
}
