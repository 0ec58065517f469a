// Package postgres implements interfaces.BlobStore over Postgres large
// objects via pgx, for multi-instance deployments where instance bytes
// need to live in the same durable store the index database already
// depends on rather than on a single node's disk.
package postgres

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dicomnet/dicomnet/errors"
)

// Store is a BlobStore backed by a oid-per-instance large object table.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at dsn and ensures the lookup table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("blobstore/postgres: connect: %w", err)
	}
	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS blob_objects (
		sop_instance_uid TEXT PRIMARY KEY,
		oid OID NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("blobstore/postgres: ensure table: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Put(sopInstanceUID string, data []byte) error {
	ctx := context.Background()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		lo := tx.LargeObjects()
		oid, err := lo.Create(ctx, 0)
		if err != nil {
			return err
		}
		obj, err := lo.Open(ctx, oid, pgx.LargeObjectModeWrite)
		if err != nil {
			return err
		}
		if _, err := obj.Write(data); err != nil {
			return err
		}
		var oldOID uint32
		err = tx.QueryRow(ctx, `SELECT oid FROM blob_objects WHERE sop_instance_uid = $1`, sopInstanceUID).Scan(&oldOID)
		if err == nil {
			if err := lo.Unlink(ctx, oldOID); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `INSERT INTO blob_objects (sop_instance_uid, oid) VALUES ($1, $2)
			ON CONFLICT (sop_instance_uid) DO UPDATE SET oid = EXCLUDED.oid`, sopInstanceUID, oid)
		return err
	})
}

func (s *Store) Get(sopInstanceUID string) ([]byte, error) {
	ctx := context.Background()
	var data []byte
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var oid uint32
		err := tx.QueryRow(ctx, `SELECT oid FROM blob_objects WHERE sop_instance_uid = $1`, sopInstanceUID).Scan(&oid)
		if err == pgx.ErrNoRows {
			return errors.ErrNotFound
		}
		if err != nil {
			return err
		}
		lo := tx.LargeObjects()
		obj, err := lo.Open(ctx, oid, pgx.LargeObjectModeRead)
		if err != nil {
			return err
		}
		buf, err := io.ReadAll(obj)
		if err != nil {
			return err
		}
		data = buf
		return nil
	})
	if err != nil {
		return nil, errors.NewStoreError("blob_get", err)
	}
	return data, nil
}

func (s *Store) Delete(sopInstanceUID string) error {
	ctx := context.Background()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var oid uint32
		err := tx.QueryRow(ctx, `SELECT oid FROM blob_objects WHERE sop_instance_uid = $1`, sopInstanceUID).Scan(&oid)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.LargeObjects().Unlink(ctx, oid); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM blob_objects WHERE sop_instance_uid = $1`, sopInstanceUID)
		return err
	})
	if err != nil {
		return errors.NewStoreError("blob_delete", err)
	}
	return nil
}
