package changewatch

// WithFinalizeHook reports each finalization to fn.
func WithFinalizeHook(fn func(id string)) Option {
	return func(o *Options) { o.onFinalize = fn }
}
