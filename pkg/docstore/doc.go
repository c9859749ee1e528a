// Package docstore provides a lightweight client for the DinORM document
// storage REST API. Records are opaque JSON mappings stored under
// server-generated string keys; the client translates CRUD, query and
// aggregate intents into calls against the /data/... endpoints and never
// interprets record contents.
//
// The public API centres around the Client type plus generic package
// functions (Create/Get/Update/Find/FindOne/Aggregate) that decode into the
// caller's types. Failures surface as explicit errors: ErrNotFound for
// missing keys, *HTTPError for status detail, wrapped transport errors
// otherwise. The Lenient view restores the historical behaviour of
// collapsing every failure to a null/false/empty sentinel.
package docstore
