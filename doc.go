// Package identity is an embeddable authentication engine: it issues and
// validates opaque session tokens, links multiple credential and identity
// provider accounts to a single user, and lets extensions intercept every
// state mutation through a hook pipeline.
//
// Sessions:
//   - Sessions carry an opaque bearer token and slide forward: reads past the
//     configured update age extend the expiry, never shrink it. A signed,
//     time-bounded cookie cache avoids storage round-trips; the cache is
//     never authoritative and degrades to a storage lookup on any signature
//     or expiry failure.
//
// Account linking:
//   - Every user holds at least one account at all times. Unlinking the last
//     account is rejected atomically, manual linking is gated by email
//     consistency unless the provider is trusted, and sign-in auto-linking
//     only merges into an existing user when the provider claim can be
//     trusted.
//
// Extension points:
//   - Each create/update of User, Session, Account, or Verification flows
//     through the hook pipeline, so plugins observe and can veto every
//     mutation regardless of which component triggered it. Plugins may also
//     contribute session-shaping endpoints that derive custom payloads from
//     the resolved {user, session} pair.
package identity
