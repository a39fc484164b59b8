// Package partflow provides reliable large-file transfer to an object
// store: resumable multipart uploads with durable part tracking, and
// time-limited signed URLs for direct client download and upload.
//
// # Key Components
//
//   - Coordinator: drives a transfer from declared to durably stored,
//     and issues signed download/upload URLs
//   - TransferRepo: interface for transfer/part metadata persistence
//     (PostgreSQL, SQLite)
//   - ObjectStore: interface for multipart-capable object storage
//     (S3-compatible services, local filesystem)
//   - Signer / SignatureVerifier: AWS Signature V4 presigned URL
//     issuance and verification
//
// # Transfer Lifecycle
//
// A client declares a file with Begin, uploads parts independently (and
// possibly concurrently or after reconnecting), then calls Complete:
//
//	t, err := coord.Begin(ctx, principal, partflow.BeginTransfer{
//	    TargetKey: "a.bin",
//	    FileSize:  15_000_000,
//	    PartSize:  5_000_000,
//	})
//
//	// for each part 1..t.PartCount:
//	rec, err := coord.UploadPart(ctx, t.ID, 1, checksum, bytes.NewReader(chunk))
//
//	res, err := coord.Complete(ctx, t.ID)
//
// A failed connection costs at most one part's bytes: re-uploading a
// part with the same checksum is idempotent. Abort releases the
// object-store session and never returns an error, so it is safe in
// failure unwinding. Sweep garbage-collects transfers that were never
// completed or aborted.
//
// See the http package for the REST API and the database/postgres and
// database/sqlite packages for metadata backends.
package partflow
