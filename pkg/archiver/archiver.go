// Package archiver ships verified segments of each region's audit chain to
// object storage and advances a per-region checkpoint.
package archiver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bturcanu/adgateway/pkg/audit"
)

// ChainStore is the part of *audit.Store the archiver reads and advances.
type ChainStore interface {
	Regions(context.Context) ([]string, error)
	ArchiveCheckpoint(context.Context, string) (audit.Checkpoint, error)
	ChainEventsAfter(context.Context, string, int64) ([]audit.ChainEvent, error)
	SaveArchiveCheckpoint(context.Context, string, audit.Checkpoint) error
}

type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

type Service struct {
	store    ChainStore
	uploader Uploader
	prefix   string
	now      func() time.Time
}

func New(store ChainStore, uploader Uploader, prefix string) *Service {
	if prefix == "" {
		prefix = "directory-audit"
	}
	return &Service{store: store, uploader: uploader, prefix: prefix, now: time.Now}
}

// Bundle is one uploaded chain segment. FromHash is the checkpoint the first
// record links to, so consecutive bundles can be verified end to end.
type Bundle struct {
	Region       string             `json:"aws_region"`
	CreatedAt    time.Time          `json:"created_at"`
	EventCount   int                `json:"event_count"`
	FromHash     string             `json:"from_hash"`
	Checkpoint   string             `json:"checkpoint_hash"`
	FirstSeq     int64              `json:"first_seq"`
	LastSeq      int64              `json:"last_seq"`
	Since        time.Time          `json:"since"`
	Until        time.Time          `json:"until"`
	ChainRecords []audit.ChainEvent `json:"chain_records"`
}

// ArchiveRegion uploads everything recorded for region since its checkpoint.
// It returns the object key, or "" when there was nothing new.
func (s *Service) ArchiveRegion(ctx context.Context, region string) (string, error) {
	cp, err := s.store.ArchiveCheckpoint(ctx, region)
	if err != nil {
		return "", err
	}
	events, err := s.store.ChainEventsAfter(ctx, region, cp.Seq)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "", nil
	}
	if err := audit.VerifyChainFrom(cp.Hash, events); err != nil {
		return "", fmt.Errorf("verify chain %s: %w", region, err)
	}

	first, last := events[0], events[len(events)-1]
	now := s.now().UTC()
	bundle := Bundle{
		Region:       region,
		CreatedAt:    now,
		EventCount:   len(events),
		FromHash:     cp.Hash,
		Checkpoint:   last.Hash,
		FirstSeq:     first.Seq,
		LastSeq:      last.Seq,
		Since:        cp.Until,
		Until:        last.ReceivedAt,
		ChainRecords: events,
	}
	body, err := encodeBundle(bundle)
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%04d/%02d/%02d/%020d-%s.json",
		s.prefix, regionSegment(region), now.Year(), now.Month(), now.Day(), last.Seq, last.Hash)
	if err := s.uploader.Upload(ctx, key, body); err != nil {
		return "", err
	}
	next := audit.Checkpoint{Seq: last.Seq, Hash: last.Hash, Until: last.ReceivedAt}
	if err := s.store.SaveArchiveCheckpoint(ctx, region, next); err != nil {
		return "", err
	}
	return key, nil
}

// Result is the outcome of archiving one region in a sweep.
type Result struct {
	Region string
	Key    string
	Err    error
}

// ArchiveAll archives the given regions, or every recorded region when none
// are named. A failing region does not stop the others.
func (s *Service) ArchiveAll(ctx context.Context, regions ...string) ([]Result, error) {
	if len(regions) == 0 {
		all, err := s.store.Regions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list regions: %w", err)
		}
		regions = all
	}
	results := make([]Result, 0, len(regions))
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		key, err := s.ArchiveRegion(ctx, region)
		results = append(results, Result{Region: region, Key: key, Err: err})
	}
	return results, nil
}

// encodeBundle keeps the canonical records byte-for-byte so bundles verify
// offline.
func encodeBundle(b Bundle) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// regionSegment keeps the SDK-default region ("") addressable as a key path.
func regionSegment(region string) string {
	if region == "" {
		return "_default"
	}
	return region
}
