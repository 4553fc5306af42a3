// Package core turns supplier spreadsheets and pasted SKU lists into
// draft product records awaiting review.
//
// The package holds all domain logic independent of transport. Web
// handlers, the importer CLI and tests use it unchanged.
//
// # Pipeline
//
//  1. [ParseTable] detects format, encoding and delimiter and yields a
//     [RawTable]; [ParseTokens] does the same job for pasted text.
//  2. [SchemaMapper] guesses which column feeds which target field.
//     Callers confirm or override the guess as a [ColumnMapping].
//  3. [ApplyMapping] projects rows onto target fields.
//  4. [Committer] validates SKUs, skips duplicates, resolves
//     manufacturers, suppliers and importers, and writes drafts in
//     chunked transactions with one savepoint per row.
//
// [Service] wires these steps together, limits concurrent imports and
// broadcasts progress to subscribers.
//
// # Error Handling
//
// Only [ErrInvalidInput] and [ErrIO] abort a run. Everything else is
// collected into the [ImportReport] as [ImportRowError] and
// [ImportRowWarning] values. [MapError] turns technical errors into coded
// user messages:
//
//   - DB001-DB008: database errors
//   - IMP001-IMP005: mapping and paste errors
//   - FILE001-FILE006: file errors
//   - UPL001-UPL006: import run errors
package core
