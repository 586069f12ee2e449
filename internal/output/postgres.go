package output

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pcdslab/gicops/pkg/postgres"
	"github.com/pcdslab/gicops/pkg/resilience"
)

const createPSMTable = `
CREATE TABLE IF NOT EXISTS psms (
	spec_id     BIGINT NOT NULL,
	pmass       DOUBLE PRECISION NOT NULL,
	idx_offset  INT NOT NULL,
	psid        BIGINT NOT NULL,
	hyperscore  DOUBLE PRECISION NOT NULL,
	shared_ions INT NOT NULL,
	total_ions  INT NOT NULL,
	cpsms       INT NOT NULL,
	evalue      DOUBLE PRECISION NOT NULL,
	rtime       DOUBLE PRECISION NOT NULL,
	charge      INT NOT NULL,
	file_index  INT NOT NULL
)`

// PostgresSink buffers PSMs and flushes them in batched transactions.
type PostgresSink struct {
	client    *postgres.Client
	mu        sync.Mutex
	buffer    []PSM
	batchSize int
	logger    *slog.Logger
}

// NewPostgresSink ensures the psms table exists and returns a sink that
// flushes every batchSize rows.
func NewPostgresSink(client *postgres.Client, batchSize int) (*PostgresSink, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if _, err := client.DB.Exec(createPSMTable); err != nil {
		return nil, fmt.Errorf("creating psms table: %w", err)
	}
	return &PostgresSink{
		client:    client,
		buffer:    make([]PSM, 0, batchSize),
		batchSize: batchSize,
		logger:    slog.Default().With("component", "postgres-sink"),
	}, nil
}

// Write buffers one PSM, flushing when the batch fills.
func (s *PostgresSink) Write(ctx context.Context, p PSM) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, p)
	shouldFlush := len(s.buffer) >= s.batchSize
	s.mu.Unlock()
	if shouldFlush {
		return s.flush(ctx)
	}
	return nil
}

// Close flushes remaining rows and releases the connection.
func (s *PostgresSink) Close() error {
	err := s.flush(context.Background())
	if cerr := s.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *PostgresSink) flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.buffer
	s.buffer = make([]PSM, 0, s.batchSize)
	s.mu.Unlock()

	err := resilience.Retry(ctx, "psm-insert", resilience.RetryConfig{}, func() error {
		return s.client.InTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx,
				`INSERT INTO psms (spec_id, pmass, idx_offset, psid, hyperscore,
					shared_ions, total_ions, cpsms, evalue, rtime, charge, file_index)
				 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, p := range batch {
				if _, err := stmt.ExecContext(ctx, p.SpecID, p.PMass, p.IdxOffset, p.PSID,
					p.Hyperscore, p.SharedIons, p.TotalIons, p.CPSMs, p.EValue,
					p.RTime, p.Charge, p.FileIndex); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		s.logger.Error("psm batch insert failed", "batch_size", len(batch), "error", err)
		return fmt.Errorf("inserting psm batch: %w", err)
	}
	return nil
}
