// Package cost implements the cost/utility model: the cost vector V
// measured for an executed action, the divergence metric between
// intended and actual state change, and the utility score used to rank
// candidate actions.
//
// All quantities that end up in hashed records (risk, divergence
// components, weights) are scaled int64 in thousandths - 0..1000 maps
// to 0.0..1.0 - so records stay float-free and replay bit-identical.
// Utility itself is float64: it is a ranking signal, never persisted
// and never hashed.
//
// Divergence is a diagnostic signal, not a gating condition: it
// correlates with, but does not replace, the pass/fail verdict.
package cost
