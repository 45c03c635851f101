// Package records persists purchase and rating records in a local boltdb
// file and aggregates per-article statistics from them. Recording a purchase
// is deliberately decoupled from payment settlement: the client reports it
// after a successful unlock, so records are best-effort social proof, not an
// accounting ledger.
package records

import (
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/boltdb/bolt"
	"github.com/cockroachdb/errors"
)

// ErrInvalidScore is returned when a rating score is outside [1,5].
var ErrInvalidScore = errors.New("rating score must be between 1 and 5")

var (
	bucketPurchases = []byte("purchases")
	bucketCounters  = []byte("counters")
	bucketRatings   = []byte("ratings")
)

// recentLimit caps the purchase records included in stats responses.
const recentLimit = 10

// PurchaseRecord is the latest purchase a buyer reported for one article.
type PurchaseRecord struct {
	BuyerAddress string `json:"buyerAddress"`
	PayerAddress string `json:"payerAddress,omitempty"`
	Username     string `json:"username,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// RatingRecord is a buyer's latest rating for one article.
type RatingRecord struct {
	Score     int   `json:"score"`
	Timestamp int64 `json:"timestamp"`
}

// Stats aggregates one article's purchase and rating records.
type Stats struct {
	TotalPurchases  uint64           `json:"totalPurchases"`
	DistinctBuyers  int              `json:"distinctBuyers"`
	LastPurchaseAt  int64            `json:"lastPurchaseAt,omitempty"`
	RecentPurchases []PurchaseRecord `json:"recentPurchases"`
	RatingCount     int              `json:"ratingCount"`
	AverageRating   float64          `json:"averageRating"`
}

// Store is a boltdb-backed recorder.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Open opens (or creates) the records database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open records database %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPurchases, bucketCounters, bucketRatings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordPurchase stores rec as the buyer's latest purchase of the article
// and increments the article's purchase counter. Re-reporting the same
// purchase overwrites the record but still counts: the counter tracks
// reported unlocks, not distinct buyers.
func (s *Store) RecordPurchase(slug string, rec PurchaseRecord) error {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	buyer := normalizeAddress(rec.BuyerAddress)
	if buyer == "" {
		return errors.New("purchase record requires a buyer address")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode purchase record")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		perSlug, err := tx.Bucket(bucketPurchases).CreateBucketIfNotExists([]byte(slug))
		if err != nil {
			return errors.Wrapf(err, "create purchase bucket for %s", slug)
		}
		if err := perSlug.Put([]byte(buyer), data); err != nil {
			return errors.Wrap(err, "store purchase record")
		}

		counters := tx.Bucket(bucketCounters)
		count := decodeCounter(counters.Get([]byte(slug))) + 1
		return errors.Wrap(counters.Put([]byte(slug), encodeCounter(count)), "bump purchase counter")
	})
}

// RecordRating stores the buyer's latest rating for the article.
func (s *Store) RecordRating(slug, buyerAddress string, score int) error {
	if score < 1 || score > 5 {
		return errors.Wrapf(ErrInvalidScore, "got %d", score)
	}
	buyer := normalizeAddress(buyerAddress)
	if buyer == "" {
		return errors.New("rating requires a buyer address")
	}

	data, err := json.Marshal(RatingRecord{
		Score:     score,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return errors.Wrap(err, "encode rating record")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		perSlug, err := tx.Bucket(bucketRatings).CreateBucketIfNotExists([]byte(slug))
		if err != nil {
			return errors.Wrapf(err, "create rating bucket for %s", slug)
		}
		return errors.Wrap(perSlug.Put([]byte(buyer), data), "store rating record")
	})
}

// UserRating returns the buyer's rating for the article, or nil when the
// buyer has not rated it.
func (s *Store) UserRating(slug, buyerAddress string) (*RatingRecord, error) {
	buyer := normalizeAddress(buyerAddress)

	var rec *RatingRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		perSlug := tx.Bucket(bucketRatings).Bucket([]byte(slug))
		if perSlug == nil {
			return nil
		}
		data := perSlug.Get([]byte(buyer))
		if data == nil {
			return nil
		}
		rec = &RatingRecord{}
		return errors.Wrap(json.Unmarshal(data, rec), "decode rating record")
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Stats aggregates the article's records.
func (s *Store) Stats(slug string) (*Stats, error) {
	var stats *Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		stats, err = statsInTx(tx, slug)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// StatsBulk aggregates records for many articles in one transaction.
func (s *Store) StatsBulk(slugs []string) (map[string]*Stats, error) {
	out := make(map[string]*Stats, len(slugs))
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, slug := range slugs {
			stats, err := statsInTx(tx, slug)
			if err != nil {
				return err
			}
			out[slug] = stats
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func statsInTx(tx *bolt.Tx, slug string) (*Stats, error) {
	stats := &Stats{RecentPurchases: []PurchaseRecord{}}

	stats.TotalPurchases = decodeCounter(tx.Bucket(bucketCounters).Get([]byte(slug)))

	if perSlug := tx.Bucket(bucketPurchases).Bucket([]byte(slug)); perSlug != nil {
		var all []PurchaseRecord
		err := perSlug.ForEach(func(_, v []byte) error {
			var rec PurchaseRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return errors.Wrap(err, "decode purchase record")
			}
			all = append(all, rec)
			return nil
		})
		if err != nil {
			return nil, err
		}

		stats.DistinctBuyers = len(all)
		sort.Slice(all, func(i, j int) bool { return all[i].Timestamp > all[j].Timestamp })
		if len(all) > 0 {
			stats.LastPurchaseAt = all[0].Timestamp
		}
		if len(all) > recentLimit {
			all = all[:recentLimit]
		}
		stats.RecentPurchases = all
	}

	if perSlug := tx.Bucket(bucketRatings).Bucket([]byte(slug)); perSlug != nil {
		var sum int
		err := perSlug.ForEach(func(_, v []byte) error {
			var rec RatingRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return errors.Wrap(err, "decode rating record")
			}
			stats.RatingCount++
			sum += rec.Score
			return nil
		})
		if err != nil {
			return nil, err
		}
		if stats.RatingCount > 0 {
			stats.AverageRating = float64(sum) / float64(stats.RatingCount)
		}
	}

	return stats, nil
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func encodeCounter(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func decodeCounter(data []byte) uint64 {
	if len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}
