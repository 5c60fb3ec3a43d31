// Package auth resolves who a caller is, which roles they hold, which station
// they belong to and whether a pending-approval state blocks their access.
//
// Session lifecycle:
//   - SessionManager owns the process-wide identity state for one browser
//     context. Initialize subscribes to the IdentityProvider change stream
//     before asking for the current session snapshot, so a sign-in racing with
//     startup is never lost.
//   - Role and profile refreshes triggered by a change notification are queued
//     and processed after the notification handler returns. Sign-out wipes the
//     cached profile and roles synchronously; a refresh that resolves for a
//     superseded session is discarded.
//
// Authorization:
//   - RoleResolver caches the effective role set of the signed-in identity.
//     A failed fetch yields an empty set (fail-closed) and is logged.
//   - RouteGuard evaluates a RouteRequirement against a GuardInput and returns
//     one of five states: loading, redirect to sign-in, pending approval,
//     access denied or authorized. Zero effective roles always means pending
//     approval, whatever the route requires.
//
// Approval workflows:
//   - ApprovalWorkflow assigns and revokes station-scoped roles, approves or
//     rejects station registration requests through a compensating Saga, and
//     countersigns or rejects provisional station_admin promotions.
//   - RegistrationStateMachine moves a RegistrationRequest out of pending
//     exactly once; the store update is conditional on the pending status.
//
// Activity sinks:
//   - ActivitySink receives audit events for sign-in, role changes and
//     registration decisions. Sinks run best-effort; errors are logged.
package auth
