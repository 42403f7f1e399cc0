// Package lifecycle is the only entry point that changes a case's state.
//
// A transition runs the guard check, persists the new state in one write,
// provisions enrollments when the case enters ACCEPTED, and then hands the
// audit entry and notifications to the dispatcher. Only lookup, validation
// and guard failures are returned; provisioning and side-effect failures
// are logged and audited.
package lifecycle
