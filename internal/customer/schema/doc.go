// Package schema defines the customer record and the rules that keep the
// local customer cache well-formed.
//
// # Overview
//
// A Customer is the only entity in the cache. Records arrive from two places:
//
//   - Local submissions (the CLI or any other caller of the sync engine),
//     which get a client-generated UUID.
//   - A full resync from the remote source, which delivers RawCustomer values
//     whose role is free text and must be normalized before storage.
//
// # Normalization
//
// Roles are folded into the fixed vocabulary {Admin, Manager}:
//
//	schema.NormalizeRole(ptr("ADMIN"))   // Admin
//	schema.NormalizeRole(ptr("manager")) // Manager
//	schema.NormalizeRole(nil)            // Admin
//	schema.NormalizeRole(ptr("owner"))   // Admin (coerced)
//
// Names are compared by their normalized form: surrounding whitespace removed,
// compared case-insensitively. NormalizeName returns that key.
//
// # Validation
//
// Validate checks a candidate against the current record set and returns a
// field -> message map. Rules run in a fixed order and stop at the first
// failure for each field:
//
//	errs := schema.Validate(candidate, existing, "")
//	if len(errs) > 0 {
//	    return errs.Err()
//	}
//
// Pass the record's own ID as excludeID when editing so it does not collide
// with itself.
//
// # Files
//
// ReadRawFile and WriteCustomersFile read and write the JSON export format
// used by the file remote source:
//
//	[
//	  {"id": "c-1", "name": "Ann", "email": "ann@example.com", "role": "ADMIN"}
//	]
//
// A GraphQL-style connection object ({"items": [...], "nextToken": null}) is
// accepted on read as well.
package schema
