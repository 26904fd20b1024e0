package worker

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"

	"github.com/mentorfy/ingestpipe/engine/domain"
	"github.com/mentorfy/ingestpipe/engine/extract"
	"github.com/mentorfy/ingestpipe/pkg/storage"
)

// GDriveTokenStore resolves the oauth_token and source_metadata rows
// that the ingestion helpers own (spec §3: "external to the core; used
// only by ingestion helpers"), and builds the downloader + origin
// descriptor the ingest_extract handler needs. Grounded on the
// teacher's own thin pgxpool query wrappers in engine/store/postgres.go.
type GDriveTokenStore struct {
	pool  *pgxpool.Pool
	oauth *oauth2.Config
}

// NewGDriveTokenStore builds a TokenStore backed by pool, authorizing
// downloads with oauthCfg.
func NewGDriveTokenStore(pool *pgxpool.Pool, oauthCfg *oauth2.Config) *GDriveTokenStore {
	return &GDriveTokenStore{pool: pool, oauth: oauthCfg}
}

// GetToken resolves the (user_id, tenant_id) oauth_token row and the
// gdrive file metadata needed to download it. A missing token is
// domain.ErrOAuthTokenMissing, non-retryable (spec §6).
func (s *GDriveTokenStore) GetToken(ctx context.Context, userID, tenantID string) (*storage.GDriveDownloader, extract.OriginFile, error) {
	var tok oauth2.Token
	var accessToken, refreshToken, tokenType string
	var expiresUnix int64
	row := s.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, token_type, expiry
		FROM oauth_token WHERE user_id = $1 AND tenant_id = $2`, userID, tenantID)
	if err := row.Scan(&accessToken, &refreshToken, &tokenType, &expiresUnix); err != nil {
		return nil, extract.OriginFile{}, fmt.Errorf("worker: %w", domain.ErrOAuthTokenMissing)
	}
	tok.AccessToken = accessToken
	tok.RefreshToken = refreshToken
	tok.TokenType = tokenType

	var origin extract.OriginFile
	row = s.pool.QueryRow(ctx, `
		SELECT file_id, name, size_bytes, coalesce(checksum, ''), modified_time, download_url
		FROM source_metadata WHERE user_id = $1 AND tenant_id = $2`, userID, tenantID)
	if err := row.Scan(&origin.FileID, &origin.Name, &origin.Size, &origin.Checksum, &origin.ModifiedTime, &origin.DownloadURL); err != nil {
		return nil, extract.OriginFile{}, fmt.Errorf("worker: load source metadata for %s/%s: %w", userID, tenantID, err)
	}

	downloader := storage.NewGDriveDownloader(ctx, s.oauth, &tok)
	return downloader, origin, nil
}
