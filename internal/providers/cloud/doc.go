// Package cloud backs up version archives to an S3-compatible bucket.
//
// Minio implements Bucket over minio-go; Archiver names, lists and fetches
// archives under a key prefix. Backups are optional: a nil *Archiver answers
// every call with ErrDisabled.
package cloud
