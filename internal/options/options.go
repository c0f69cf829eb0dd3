// Package options implements generic functional options shared by the fit
// facade and the replicate archive writer.
package options

import "fmt"

// Option configures a target of type T.
type Option[T any] interface {
	apply(T) error
}

// Func adapts a function to Option.
type Func[T any] struct {
	name      string
	applyFunc func(T) error
}

func (f *Func[T]) apply(target T) error {
	return f.applyFunc(target)
}

// String returns the option name given to Named, or "option".
func (f *Func[T]) String() string {
	if f.name == "" {
		return "option"
	}

	return f.name
}

// New creates an option that may reject its input.
func New[T any](fn func(T) error) *Func[T] {
	return &Func[T]{applyFunc: fn}
}

// Named is New with a name that prefixes any error the option returns.
func Named[T any](name string, fn func(T) error) *Func[T] {
	return &Func[T]{name: name, applyFunc: fn}
}

// NoError creates an option that cannot fail.
func NoError[T any](fn func(T)) *Func[T] {
	return &Func[T]{
		applyFunc: func(target T) error {
			fn(target)
			return nil
		},
	}
}

// Apply applies opts in order and stops at the first error. Errors of named
// options are prefixed with the option name. Nil options are skipped.
func Apply[T any](target T, opts ...Option[T]) error {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(target); err != nil {
			if f, ok := opt.(*Func[T]); ok && f.name != "" {
				return fmt.Errorf("%s: %w", f.name, err)
			}

			return err
		}
	}

	return nil
}

// Build creates a target from defaults, applies opts and runs validate on the
// result when it is not nil.
//
// Parameters:
//   - defaults: constructor of the default target
//   - validate: optional final consistency check
//   - opts: options applied in order
//
// Returns:
//   - T: the configured target
//   - error: the first option or validation error
func Build[T any](defaults func() T, validate func(T) error, opts ...Option[T]) (T, error) {
	target := defaults()
	if err := Apply(target, opts...); err != nil {
		var zero T
		return zero, err
	}
	if validate != nil {
		if err := validate(target); err != nil {
			var zero T
			return zero, err
		}
	}

	return target, nil
}
