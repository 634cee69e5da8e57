package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// TradeArchiver moves reaped trades to cold storage.
type TradeArchiver interface {
	ArchiveTrade(ctx context.Context, trade Trade) error
}
