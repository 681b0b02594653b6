// Package installment implements the installment plan state machine.
//
// A plan owns N payments numbered 1..N. Payments move
//
//	pending   -> submitted | overdue | waived
//	overdue   -> submitted | waived
//	submitted -> confirmed | rejected
//
// and confirmed, rejected and waived are terminal. Plans move
// active <-> frozen and active -> cancelled by explicit operations; the
// active <-> completed edge is derived by Rollup after every payment
// change, inside the same transaction.
//
// Every payment operation requires an active plan. A frozen, cancelled or
// completed plan rejects it with a state error and nothing is written.
package installment
