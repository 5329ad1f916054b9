package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SetItemPhoto stores or replaces the photo of a pantry item.
func SetItemPhoto(ctx context.Context, db *sql.DB, namespace, itemID string, data []byte, mime string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO item_photos (namespace, item_id, data, mime) VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, item_id) DO UPDATE
		 SET data = excluded.data, mime = excluded.mime, updated_at = CURRENT_TIMESTAMP`,
		namespace, itemID, data, mime,
	)
	if err != nil {
		return fmt.Errorf("storing item photo: %w", err)
	}
	return nil
}

// GetItemPhoto returns the photo of a pantry item. A missing photo returns
// nil data and no error.
func GetItemPhoto(ctx context.Context, db *sql.DB, namespace, itemID string) ([]byte, string, error) {
	var data []byte
	var mime string
	err := db.QueryRowContext(ctx,
		`SELECT data, mime FROM item_photos WHERE namespace = ? AND item_id = ?`,
		namespace, itemID,
	).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item photo: %w", err)
	}
	return data, mime, nil
}

// DeleteItemPhoto removes the photo of a pantry item.
func DeleteItemPhoto(ctx context.Context, db *sql.DB, namespace, itemID string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM item_photos WHERE namespace = ? AND item_id = ?`, namespace, itemID,
	)
	if err != nil {
		return fmt.Errorf("deleting item photo: %w", err)
	}
	return nil
}

// DeleteNamespacePhotos removes every photo of a namespace.
func DeleteNamespacePhotos(ctx context.Context, db *sql.DB, namespace string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM item_photos WHERE namespace = ?`, namespace)
	if err != nil {
		return fmt.Errorf("deleting photos: %w", err)
	}
	return nil
}
