package audio

import (
	"crypto/rand"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/clinia-app/clinia/internal/config"
	"github.com/clinia-app/clinia/internal/errors"
)

// StoreInput contains parameters for the Store operation.
type StoreInput struct {
	Content        []byte
	DeclaredFormat string
}

// Store validates and persists an audio asset. The format allowlist and the
// size cap are local pre-flight checks: rejecting here avoids wasting calls
// on downstream paid services.
func Store(db *sql.DB, cfg *config.Config, input StoreInput) (*Asset, error) {
	if len(input.Content) == 0 {
		return nil, errors.NewInvalidRequest("audio content is required")
	}
	if !FormatAccepted(input.DeclaredFormat) {
		return nil, errors.NewUnsupportedFormat(input.DeclaredFormat, AcceptedFormats)
	}
	if cfg.MaxAudioBytes > 0 && int64(len(input.Content)) > cfg.MaxAudioBytes {
		return nil, errors.NewAudioTooLarge(cfg.MaxAudioBytes, int64(len(input.Content)))
	}

	id, err := NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	asset := &Asset{
		ID:        id,
		Format:    NormalizeFormat(input.DeclaredFormat),
		SizeBytes: int64(len(input.Content)),
		Content:   input.Content,
		CreatedAt: time.Now().Unix(),
	}

	query := `
		INSERT INTO audio_assets (id, format, size_bytes, duration_ms, content, created_at)
		VALUES (?, ?, ?, NULL, ?, ?)
	`
	if _, err := db.Exec(query, asset.ID, asset.Format, asset.SizeBytes, asset.Content, asset.CreatedAt); err != nil {
		return nil, errors.NewInternal(err)
	}

	return asset, nil
}

// Retrieve loads an asset by its ULID, including content.
func Retrieve(db *sql.DB, id string) (*Asset, error) {
	query := `
		SELECT id, format, size_bytes, duration_ms, content, created_at
		FROM audio_assets
		WHERE id = ?
	`
	var a Asset
	var durationMS sql.NullInt64
	err := db.QueryRow(query, id).Scan(&a.ID, &a.Format, &a.SizeBytes, &durationMS, &a.Content, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("audio asset", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if durationMS.Valid {
		a.DurationMS = &durationMS.Int64
	}
	return &a, nil
}

// SetDuration records the duration reported by transcription. The asset
// content and metadata are otherwise immutable.
func SetDuration(db *sql.DB, id string, durationMS int64) error {
	res, err := db.Exec("UPDATE audio_assets SET duration_ms = ? WHERE id = ?", durationMS, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return errors.NewNotFound("audio asset", id)
	}
	return nil
}

// NewID generates a ULID for assets and sessions.
func NewID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
