// Package archive stores raw provider payloads in GCS so a sync can be
// audited or replayed after the fact.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

const uploadTimeout = 2 * time.Minute

// Writer archives JSON payloads into one bucket under a date-partitioned
// prefix. It assumes Application Default Credentials are configured
// (gcloud auth application-default login).
type Writer struct {
	bucket string
}

// NewWriter creates an archive writer for the given bucket.
func NewWriter(bucket string) *Writer {
	return &Writer{bucket: bucket}
}

// Archive uploads the payload as JSON and returns its gs:// URI. Object
// names look like raw/2024/03/15/<uuid>-accounts.json.
func (w *Writer) Archive(ctx context.Context, kind string, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("Archive: marshaling payload: %w", err)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("Archive: create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	objectName := fmt.Sprintf("raw/%s/%s-%s.json",
		time.Now().UTC().Format("2006/01/02"), uuid.NewString(), sanitizeKind(kind))

	obj := client.Bucket(w.bucket).Object(objectName)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("Archive: writing object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("Archive: finalize upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", w.bucket, objectName), nil
}

// sanitizeKind keeps object names flat: slashes would introduce
// unintended prefixes.
func sanitizeKind(kind string) string {
	kind = strings.ReplaceAll(kind, "/", "-")
	if kind == "" {
		kind = "payload"
	}
	return kind
}
