// Package middleware provides composable wrappers around a single step
// invocation. A middleware sees the invocation metadata and the next
// handler, and returns the step outcome. It may short-circuit by
// returning an outcome without calling next.
//
// The executor always runs [Recover] outermost and [Timeout] innermost;
// middleware passed with engine.WithMiddleware runs between them, in
// order:
//
//	recover → logging → tracing → metrics → timeout → capability
package middleware
