package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const gdriveChunkSize = 50 * 1024 * 1024 // spec §4.3: chunked 50MB downloads

// GDriveFile names the minimal metadata the pipeline needs to fetch a
// source file referenced by folder_id (spec §1, source_platform="gdrive").
type GDriveFile struct {
	ID       string
	Name     string
	Size     int64
	Checksum string // provider-reported SHA-256 hex digest, when available (VerifyChecksum compares SHA-256 only)
}

// GDriveDownloader fetches a file in fixed-size byte ranges concurrently,
// verifying the final size against what the provider reported — spec
// §4.3's "chunked download with byte-size verification" for large
// Google Drive sources, grounded on original_source's use of range
// requests for resumable large-file transfer.
type GDriveDownloader struct {
	httpClient *http.Client
}

// NewGDriveDownloader builds a downloader authorized via tok. It does
// not check tok; resolving a token, and reporting a missing one, is
// left to the caller.
func NewGDriveDownloader(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) *GDriveDownloader {
	return &GDriveDownloader{httpClient: cfg.Client(ctx, tok)}
}

// Download fetches downloadURL in gdriveChunkSize ranges, writing each
// chunk to dst at its offset, and verifies the number of bytes written
// matches file.Size exactly.
func (d *GDriveDownloader) Download(ctx context.Context, downloadURL string, file GDriveFile, dst io.WriterAt) error {
	if file.Size <= 0 {
		return fmt.Errorf("storage: gdrive: file %s has no reported size", file.ID)
	}

	numChunks := int((file.Size + gdriveChunkSize - 1) / gdriveChunkSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i := 0; i < numChunks; i++ {
		i := i
		start := int64(i) * gdriveChunkSize
		end := start + gdriveChunkSize - 1
		if end >= file.Size {
			end = file.Size - 1
		}
		g.Go(func() error {
			return d.fetchRange(gctx, downloadURL, start, end, dst)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("storage: gdrive: download %s: %w", file.ID, err)
	}
	return nil
}

func (d *GDriveDownloader) fetchRange(ctx context.Context, url string, start, end int64, dst io.WriterAt) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gdrive range fetch: unexpected status %d", resp.StatusCode)
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if int64(len(buf)) != end-start+1 {
		return fmt.Errorf("gdrive range fetch: short read: got %d want %d", len(buf), end-start+1)
	}
	_, err = dst.WriteAt(buf, start)
	return err
}

// VerifyChecksum hashes the downloaded content and compares it against
// the provider-reported checksum, surfacing domain.ErrCorruptDownload
// semantics to the caller on mismatch (caller wraps the error).
func VerifyChecksum(content []byte, expected string) (bool, string) {
	sum := sha256.Sum256(content)
	got := hex.EncodeToString(sum[:])
	return got == expected, got
}
