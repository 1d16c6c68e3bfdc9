// Package domain defines the core business entities for Tally.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: An uploaded file with a monotonic version
//   - Control: A structured question evaluated against every document
//   - Cell: The answer for one (document, control) pair and its lifecycle
//   - ExtractionResult: Text and citations extracted from a document version
//   - DispatchTask: An ephemeral unit of engine work
//   - ChangeEvent: A domain mutation the engine reacts to
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
