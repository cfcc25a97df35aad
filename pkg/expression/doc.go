// Package expression evaluates the expressions embedded in pipeline
// templates and conditions.
//
// It uses the expr-lang/expr library. Expressions support:
//
//   - Variable access: input.question, context.docs_result, loop.index
//   - Comparisons: ==, !=, <, >, <=, >=
//   - Boolean logic: and, or, not, &&, ||, !
//   - Membership: "value" in array (built-in operator)
//   - Literals True, False and None alongside true, false and nil
//   - Custom functions: has, includes, length, default, coalesce, title,
//     tojson and jq
//
// Example expressions:
//
//	counter < 10
//	error.type == 'TimeoutError'
//	default(input.limit, 5)
//	jq(last_result, '.items | length') > 0
//
// Undefined top-level names evaluate to nil. Compiled programs are cached
// per Evaluator and the Evaluator is safe for concurrent use.
//
// Note: The expr library uses "contains" as a string operator (for substring matching),
// so use "in" or "has()" for array membership checks.
package expression
