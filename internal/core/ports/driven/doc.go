// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the engine to function:
//
//   - DocumentStore: Document persistence
//   - ControlStore: Control persistence
//   - CellStore: Current and superseded cell persistence with atomic per-key updates
//   - ExtractionStore: Durable extraction cache rows
//   - BlobStore: Uploaded file storage
//   - Extractor: Document extraction service
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil:
//
//   - Generator: Answer generation service. Without it, generate tasks fail
//     with a retryable ErrGeneratorUnavailable.
//   - PromptStore: Customisable generation prompts. Without it, built-in defaults apply.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
