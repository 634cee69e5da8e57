package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// archivedTrade is the document written for each expired trade.
type archivedTrade struct {
	Trade      domain.Trade `json:"trade"`
	ArchivedAt time.Time    `json:"archived_at"`
	Reason     string       `json:"reason"`
}

// Archiver implements domain.TradeArchiver by writing one JSON document per
// trade, partitioned by the day it was archived:
//
//	expired/2025/01/31/ABCD2345.json
type Archiver struct {
	writer domain.BlobWriter
	now    func() time.Time
}

// NewArchiver creates an Archiver on top of any BlobWriter.
func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{writer: writer, now: time.Now}
}

// ArchiveTrade uploads t. Re-archiving a trade on the same day overwrites
// the earlier copy.
func (a *Archiver) ArchiveTrade(ctx context.Context, t domain.Trade) error {
	at := a.now().UTC()
	doc := archivedTrade{Trade: t, ArchivedAt: at, Reason: "inactivity"}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("s3blob: encode trade %s: %w", t.ID, err)
	}

	path := archivePath(t.ID, at)
	if err := a.writer.Put(ctx, path, &buf, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive trade %s: %w", t.ID, err)
	}
	return nil
}

func archivePath(tradeID string, at time.Time) string {
	return fmt.Sprintf("expired/%s/%s.json", at.Format("2006/01/02"), tradeID)
}

var _ domain.TradeArchiver = (*Archiver)(nil)
