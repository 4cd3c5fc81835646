// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package log

// FilterOption is a filter option.
type FilterOption func(*Filter)

// FilterLevel drops log entries below the given level.
func FilterLevel(level Level) FilterOption {
	return func(f *Filter) {
		f.level = level
	}
}

// Filter is a level filtering logger.
type Filter struct {
	logger Logger
	level  Level
}

// NewFilter wraps a logger with filter options.
func NewFilter(logger Logger, opts ...FilterOption) *Filter {
	f := &Filter{logger: logger}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Log forwards the entry to the wrapped logger unless it is filtered.
func (f *Filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.level {
		return nil
	}
	return f.logger.Log(level, keyvals...)
}
