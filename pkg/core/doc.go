// Package core defines the shared language of the booking computed-column engine.
//
// This package contains:
//   - Domain entities (Column, ArgumentBinding, Record, Fields)
//   - Collaborator interfaces (RecordStore, BatchWriter, ChangeRecorder)
//   - Value semantics shared by every layer (Equal, Clone)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
