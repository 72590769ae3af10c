// Package auth issues and resolves learner sessions and provisions learner
// profiles from membership webhooks.
//
// Sessions:
//   - TokenService signs HS256 credentials carrying SessionClaims.
//   - SessionStore writes and reads an ordered set of cookie schemes. The
//     signed cookie is current; plaintext email cookies from older deployments
//     are honoured until a configured deadline and are never used when a signed
//     cookie is present but invalid.
//
// Ingestion:
//   - WebhookIngestor decodes a membership event, detects the tier through
//     TierRules, provisions the profile and appends exactly one AuditEntry.
//   - Provisioner owns profile creation and magic links. Side effects such as
//     mailing a link go through ActivitySink and are best-effort.
//
// Storage:
//   - BunProfileStore persists profiles on sqlite or postgres with embedded
//     migrations. RingAuditLog and RedisAuditLog keep the bounded audit trail.
//
// Controller wires everything onto a go-router RouteRegistrar.
package auth
