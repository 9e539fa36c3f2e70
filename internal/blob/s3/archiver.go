package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/quantdao/ledgerd/internal/domain"
)

// SnapshotArchiver exports full ledger state documents to object storage and
// locates the most recent export for replica hydration. Deleting superseded
// snapshots is a separate, explicit retention step.
type SnapshotArchiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	deleter domain.BlobDeleter
	audit   domain.AuditStore
	prefix  string
}

// NewSnapshotArchiver creates a SnapshotArchiver writing under the given key
// prefix (for example "snapshots"). The deleter may be nil, which disables
// Prune.
func NewSnapshotArchiver(writer domain.BlobWriter, reader domain.BlobReader, deleter domain.BlobDeleter, audit domain.AuditStore, prefix string) *SnapshotArchiver {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &SnapshotArchiver{
		writer:  writer,
		reader:  reader,
		deleter: deleter,
		audit:   audit,
		prefix:  prefix,
	}
}

// snapshotPath builds the S3 key for a state export, partitioned by day:
//
//	snapshots/2025/01/31/153000.json
func (a *SnapshotArchiver) snapshotPath(at time.Time) string {
	return fmt.Sprintf("%s/%s.json", a.prefix, at.UTC().Format("2006/01/02/150405"))
}

// Archive serialises the state document as JSON, uploads it, records the
// export in the audit log, and returns the object key.
func (a *SnapshotArchiver) Archive(ctx context.Context, doc any, at time.Time) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("s3blob: snapshot marshal: %w", err)
	}

	path := a.snapshotPath(at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf.Bytes()), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: snapshot upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "snapshot.exported", map[string]any{
			"path": path,
			"size": buf.Len(),
			"at":   at.UTC().Format(time.RFC3339),
		}); err != nil {
			return path, fmt.Errorf("s3blob: snapshot audit log: %w", err)
		}
	}

	return path, nil
}

// Latest returns a reader over the most recent snapshot under the archiver's
// prefix. The day-partitioned key layout sorts lexicographically by time, so
// the newest object is the greatest key. Returns domain.ErrNotFound when no
// snapshot exists.
func (a *SnapshotArchiver) Latest(ctx context.Context) (io.ReadCloser, string, error) {
	infos, err := a.reader.List(ctx, a.prefix+"/")
	if err != nil {
		return nil, "", fmt.Errorf("s3blob: snapshot list: %w", err)
	}
	if len(infos) == 0 {
		return nil, "", fmt.Errorf("s3blob: snapshot latest: %w", domain.ErrNotFound)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	newest := infos[len(infos)-1].Path

	rc, err := a.reader.Get(ctx, newest)
	if err != nil {
		return nil, "", fmt.Errorf("s3blob: snapshot get %s: %w", newest, err)
	}
	return rc, newest, nil
}

// Prune deletes all but the newest keep snapshots under the archiver's
// prefix and returns the number removed. A keep of zero or a missing deleter
// keeps everything.
func (a *SnapshotArchiver) Prune(ctx context.Context, keep int) (int, error) {
	if a.deleter == nil || keep <= 0 {
		return 0, nil
	}

	infos, err := a.reader.List(ctx, a.prefix+"/")
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune list: %w", err)
	}
	if len(infos) <= keep {
		return 0, nil
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })

	removed := 0
	for _, info := range infos[:len(infos)-keep] {
		if err := a.deleter.Delete(ctx, info.Path); err != nil {
			return removed, fmt.Errorf("s3blob: prune delete %s: %w", info.Path, err)
		}
		removed++
	}
	return removed, nil
}

// ArchiveAuditLog exports audit entries recorded strictly before the cutoff
// as JSONL, keyed by the cutoff's year-month. Returns the number of entries
// exported; zero entries produce no object.
func (a *SnapshotArchiver) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := fmt.Sprintf("archive/audit_log/%s.jsonl", before.UTC().Format("2006-01"))
	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	return int64(len(entries)), nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
