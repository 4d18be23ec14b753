package d1

import (
	"context"
	"crypto/md5" //nolint:gosec // D1 identifies uploads by MD5 etag
	"encoding/hex"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrMissingUploadURL is returned when init yields no upload URL.
var ErrMissingUploadURL = eris.New("d1: missing upload_url in init response")

// ErrETagMismatch is returned when the uploaded object's ETag differs from
// the payload hash.
var ErrETagMismatch = eris.New("d1: etag mismatch")

// ETag returns the hex MD5 digest D1 expects for payload.
func ETag(payload []byte) string {
	sum := md5.Sum(payload) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Import runs the full init, upload, ingest and poll sequence for a SQL
// dump.
func Import(ctx context.Context, client Client, payload []byte, opts ...PollOption) (*PollResult, error) {
	etag := ETag(payload)
	log := zap.L().With(zap.String("etag", etag), zap.Int("bytes", len(payload)))

	initRes, err := client.Init(ctx, etag)
	if err != nil {
		return nil, err
	}
	if initRes.UploadURL == "" {
		return nil, ErrMissingUploadURL
	}
	log.Info("d1 upload initialised", zap.String("filename", initRes.Filename))

	got, err := client.Upload(ctx, initRes.UploadURL, payload)
	if err != nil {
		return nil, err
	}
	if got != etag {
		return nil, eris.Wrapf(ErrETagMismatch, "expected %s, got %s", etag, got)
	}
	log.Info("d1 payload uploaded")

	ingestRes, err := client.Ingest(ctx, etag, initRes.Filename)
	if err != nil {
		return nil, err
	}
	log.Info("d1 ingest started", zap.String("bookmark", ingestRes.AtBookmark))

	return PollImport(ctx, client, ingestRes.AtBookmark, opts...)
}
