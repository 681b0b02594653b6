// Package finance converts subscription amounts to USD and computes cost,
// margin and the jackpot flag from configurable lookup tables.
package finance
