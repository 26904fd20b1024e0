// Package storage implements the Storage Gateway (spec §4.3/§C2): an
// S3-compatible object store for raw uploads and extracted text,
// wrapping aws-sdk-go-v2's s3 client and upload manager.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	rawPrefix       = "raw_documents/"
	extractedPrefix = "extracted_text/"
)

// Gateway is the object-storage boundary the extraction and ingestion
// phases read/write through. All operations are upsert: re-running a
// retried phase against the same document id is idempotent.
type Gateway struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// New wraps an existing s3.Client for bucket.
func New(client *s3.Client, bucket string) *Gateway {
	return &Gateway{client: client, uploader: manager.NewUploader(client), bucket: bucket}
}

func rawKey(documentID, ext string) string {
	return fmt.Sprintf("%s%s%s", rawPrefix, documentID, ext)
}

func extractedKey(documentID string) string {
	return fmt.Sprintf("%s%s.txt", extractedPrefix, documentID)
}

// PutRaw uploads (or overwrites) the original file bytes for a
// document under raw_documents/.
func (g *Gateway) PutRaw(ctx context.Context, documentID, ext string, body io.Reader, contentType string) (string, error) {
	key := rawKey(documentID, ext)
	_, err := g.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: put raw %s: %w", key, err)
	}
	return key, nil
}

// GetRaw streams the original file bytes back for extraction.
func (g *Gateway) GetRaw(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("storage: get raw %s: %w", key, err)
	}
	return out.Body, nil
}

// PutExtractedText upserts the plain-text extraction result under
// extracted_text/, the handoff point between extraction and chunking.
func (g *Gateway) PutExtractedText(ctx context.Context, documentID, text string) (string, error) {
	key := extractedKey(documentID)
	_, err := g.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(text)),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("storage: put extracted text %s: %w", key, err)
	}
	return key, nil
}

// GetExtractedText reads back the extracted text for chunking.
func (g *Gateway) GetExtractedText(ctx context.Context, key string) (string, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)})
	if err != nil {
		return "", fmt.Errorf("storage: get extracted text %s: %w", key, err)
	}
	defer out.Body.Close()
	buf, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("storage: read extracted text %s: %w", key, err)
	}
	return string(buf), nil
}

// Delete removes an object, treating NotFound as success (spec §4.10
// deletion is idempotent: a missing object counts as already deleted).
func (g *Gateway) Delete(ctx context.Context, key string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// DeleteDocumentObjects removes both the raw and extracted objects for
// a document, used by the Deletion Coordinator.
func (g *Gateway) DeleteDocumentObjects(ctx context.Context, rawKey, extractedKey string) error {
	if rawKey != "" {
		if err := g.Delete(ctx, rawKey); err != nil {
			return err
		}
	}
	if extractedKey != "" {
		if err := g.Delete(ctx, extractedKey); err != nil {
			return err
		}
	}
	return nil
}
