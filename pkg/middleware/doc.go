// Package middleware provides HTTP glue for hosts embedding the
// gatehouse engine: the organization scope gate and request-scoped
// logging. Route and handler definitions stay in the host; these
// middlewares only assume a mux route with an {org_id} variable and an
// authentication layer that sets the user ID via pkg/contextkeys.
package middleware
