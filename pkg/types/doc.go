/*
Package types provides the shared interfaces and data structures for the
coldpack archive packaging engine.

The package defines the contracts between components so that the packager,
batch orchestrator, and storage backends stay loosely coupled:

Normalizer / Restorer:
Collaborator interfaces consumed by the fidelity-reduced packaging modes. A
Normalizer turns a source file into the canonical byte stream to compress and
may refuse inputs it cannot safely transform (refusal triggers a transparent
fallback to the lossless path). A Restorer is the decompression-side mirror,
applied to the restored bytes before they are committed.

ArchiveStore:
Abstracts where finished archives live. Implementations exist for the local
filesystem and for S3-compatible object storage.

Result types:
PackResult, UnpackResult, Failure, JobOutcome, and BatchSummary describe
per-file outcomes and the aggregate view a batch run returns. A BatchSummary
is immutable once returned and deterministic given the set of outcomes,
regardless of the order jobs completed in.
*/
package types
